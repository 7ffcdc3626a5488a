package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"learnhub.io/internal/auth"
)

// Full method names of the Authz service.
const (
	AuthzServiceName = "learnhub.auth.v1.Authz"
	MethodCheck      = "/" + AuthzServiceName + "/Check"
	MethodWhoami     = "/" + AuthzServiceName + "/Whoami"
)

// AuthzServer answers authorization questions for collaborator services.
// Requests and responses use protobuf Struct so no generated code is needed:
//
//	Check:  {"permissions": [...], "roles": [...]} -> {"allowed", "reason", "tenant_id"}
//	Whoami: Empty -> {"user_id", "email", "tenant_id", "roles", "permissions"}
type AuthzServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Whoami(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// AuthzService implements AuthzServer on the engine. It expects the Guard to
// have placed the caller's principal in the context.
type AuthzService struct {
	authz    *auth.Authorizer
	resolver *auth.TenantResolver
}

var _ AuthzServer = (*AuthzService)(nil)

func NewAuthzService(authz *auth.Authorizer, resolver *auth.TenantResolver) *AuthzService {
	return &AuthzService{authz: authz, resolver: resolver}
}

func (s *AuthzService) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	perms := stringList(in, "permissions")
	roles := stringList(in, "roles")
	if len(perms) == 0 && len(roles) == 0 {
		return nil, status.Error(codes.InvalidArgument, "permissions or roles are required")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	scoped, err := Scope(ctx, s.resolver, s.authz, p, HintsFromMetadata(md))
	if err == nil && len(perms) > 0 {
		err = s.authz.Authorize(ctx, scoped, perms...)
	}
	if err == nil && len(roles) > 0 {
		err = s.authz.AuthorizeByRole(ctx, scoped, roles...)
	}
	out := map[string]any{"allowed": err == nil, "tenant_id": scoped.TenantID}
	var denied *auth.PermissionDeniedError
	switch {
	case err == nil:
	case errors.As(err, &denied):
		out["reason"] = denied.Error()
	case errors.Is(err, auth.ErrTenantContextMissing):
		out["reason"] = auth.ErrTenantContextMissing.Error()
	default:
		return nil, toStatus(err)
	}
	return structpb.NewStruct(out)
}

func (s *AuthzService) Whoami(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	p, err := Scope(ctx, s.resolver, s.authz, p, HintsFromMetadata(md))
	if err != nil {
		return nil, toStatus(err)
	}
	perms, err := s.authz.EffectivePermissions(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"user_id":     p.UserID,
		"email":       p.Email,
		"tenant_id":   p.TenantID,
		"roles":       anyList(p.Roles),
		"permissions": anyList(perms),
	})
}

func stringList(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}

func anyList(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

// RegisterAuthzServer registers srv on s.
func RegisterAuthzServer(s grpc.ServiceRegistrar, srv AuthzServer) {
	s.RegisterService(&authzServiceDesc, srv)
}

var authzServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthzServiceName,
	HandlerType: (*AuthzServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
		{MethodName: "Whoami", Handler: whoamiHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "learnhub/auth/v1/authz",
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthzServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCheck}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthzServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func whoamiHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthzServer).Whoami(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWhoami}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthzServer).Whoami(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
