package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"learnhub.io/internal/auth"
)

// Client calls the Authz service on behalf of a collaborator service.
type Client struct {
	conn *grpc.ClientConn
}

// Decision is the answer to a Check call.
type Decision struct {
	Allowed  bool
	Reason   string
	TenantID string
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check asks whether the bearer of token holds every permission and one of
// roles in the tenant the hints resolve to.
func (c *Client) Check(ctx context.Context, token string, hints auth.TenantHints, permissions, roles []string) (Decision, error) {
	in, err := structpb.NewStruct(map[string]any{
		"permissions": anyList(permissions),
		"roles":       anyList(roles),
	})
	if err != nil {
		return Decision{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(OutgoingWithCredentials(ctx, token, hints), MethodCheck, in, out); err != nil {
		return Decision{}, err
	}
	f := out.GetFields()
	return Decision{
		Allowed:  f["allowed"].GetBoolValue(),
		Reason:   f["reason"].GetStringValue(),
		TenantID: f["tenant_id"].GetStringValue(),
	}, nil
}

// Whoami returns the principal and effective permissions of the token bearer.
func (c *Client) Whoami(ctx context.Context, token string, hints auth.TenantHints) (auth.Principal, []string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(OutgoingWithCredentials(ctx, token, hints), MethodWhoami, &emptypb.Empty{}, out); err != nil {
		return auth.Principal{}, nil, err
	}
	f := out.GetFields()
	p := auth.Principal{
		UserID:   f["user_id"].GetStringValue(),
		Email:    f["email"].GetStringValue(),
		TenantID: f["tenant_id"].GetStringValue(),
		Roles:    stringList(out, "roles"),
	}
	return p, stringList(out, "permissions"), nil
}

// OutgoingWithCredentials attaches the bearer token and tenant hints to the
// outgoing metadata.
func OutgoingWithCredentials(ctx context.Context, token string, hints auth.TenantHints) context.Context {
	var pairs []string
	if token = strings.TrimSpace(token); token != "" {
		pairs = append(pairs, MDAuthorization, "Bearer "+token)
	}
	for _, kv := range [][2]string{
		{MDTenantID, hints.TenantID},
		{MDTenantName, hints.TenantName},
		{MDCourseID, hints.CourseID},
		{MDLiveClassID, hints.LiveClassID},
		{MDLessonID, hints.LessonID},
		{MDModuleID, hints.ModuleID},
	} {
		if v := strings.TrimSpace(kv[1]); v != "" {
			pairs = append(pairs, kv[0], v)
		}
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
