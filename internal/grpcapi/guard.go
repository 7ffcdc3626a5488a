// Package grpcapi applies the authorization engine to gRPC calls.
package grpcapi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"learnhub.io/internal/auth"
	"learnhub.io/internal/obs"
)

// Metadata keys read by the guard.
const (
	MDAuthorization = "authorization"
	MDTenantID      = "x-tenant-id"
	MDTenantName    = "x-tenant-name"
	MDCourseID      = "x-course-id"
	MDLiveClassID   = "x-live-class-id"
	MDLessonID      = "x-lesson-id"
	MDModuleID      = "x-module-id"
)

// Policy is the requirement declared for one full method name. A zero Policy
// means "authenticated".
type Policy struct {
	Public      bool
	Permissions []string
	Roles       []string
}

func (p Policy) tenantScoped() bool {
	return len(p.Permissions) > 0 || len(p.Roles) > 0
}

// Policies maps full method names to their requirement. Methods without a
// policy are rejected.
type Policies map[string]Policy

// Guard authenticates bearer metadata and enforces Policies.
type Guard struct {
	svc      *auth.Service
	authz    *auth.Authorizer
	resolver *auth.TenantResolver
	policies Policies
}

// NewGuard wires the engine components.
func NewGuard(svc *auth.Service, authz *auth.Authorizer, resolver *auth.TenantResolver, policies Policies) (*Guard, error) {
	if svc == nil || authz == nil || resolver == nil {
		return nil, errors.New("grpcapi: service, authorizer and resolver are required")
	}
	return &Guard{svc: svc, authz: authz, resolver: resolver, policies: policies}, nil
}

// Unary returns the unary server interceptor.
func (g *Guard) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.check(ctx, info.FullMethod)
		var resp any
		if err == nil {
			resp, err = handler(ctx, req)
		}
		obs.ObserveGRPC(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}

// Stream returns the stream server interceptor.
func (g *Guard) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.check(ss.Context(), info.FullMethod)
		if err == nil {
			err = handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
		}
		obs.ObserveGRPC(info.FullMethod, status.Code(err).String())
		return err
	}
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context { return s.ctx }

func (g *Guard) check(ctx context.Context, fullMethod string) (context.Context, error) {
	policy, ok := g.policies[fullMethod]
	if !ok {
		return ctx, status.Error(codes.PermissionDenied, "method not exposed")
	}
	if policy.Public {
		return ctx, nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	token, err := bearerFromMetadata(md)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}
	principal, err := g.svc.AuthenticateToken(token)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}
	if policy.tenantScoped() {
		principal, err = Scope(ctx, g.resolver, g.authz, principal, HintsFromMetadata(md))
		if err == nil {
			if len(policy.Permissions) > 0 {
				err = g.authz.Authorize(ctx, principal, policy.Permissions...)
			} else {
				err = g.authz.AuthorizeByRole(ctx, principal, policy.Roles...)
			}
		}
		if err != nil {
			return ctx, toStatus(err)
		}
	}
	return auth.ContextWithPrincipal(ctx, principal), nil
}

// Scope binds the principal to the tenant the hints resolve to.
func Scope(ctx context.Context, resolver *auth.TenantResolver, authz *auth.Authorizer, p auth.Principal, hints auth.TenantHints) (auth.Principal, error) {
	if hints.Empty() {
		return p, nil
	}
	tenantID, ok, err := resolver.Resolve(ctx, hints)
	if err != nil || !ok {
		return p, err
	}
	return authz.ScopePrincipal(ctx, p, tenantID)
}

func bearerFromMetadata(md metadata.MD) (string, error) {
	vals := md.Get(MDAuthorization)
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return "", errors.New("missing bearer token")
	}
	v := strings.TrimSpace(vals[0])
	const prefix = "bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(v[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// HintsFromMetadata reads tenant hints from incoming metadata.
func HintsFromMetadata(md metadata.MD) auth.TenantHints {
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}
	return auth.TenantHints{
		TenantID:    first(MDTenantID),
		TenantName:  first(MDTenantName),
		CourseID:    first(MDCourseID),
		LiveClassID: first(MDLiveClassID),
		LessonID:    first(MDLessonID),
		ModuleID:    first(MDModuleID),
	}
}

// toStatus maps engine errors to gRPC status codes with short messages.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var denied *auth.PermissionDeniedError
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.As(err, &denied):
		return status.Error(codes.PermissionDenied, denied.Error())
	case errors.Is(err, auth.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, auth.ErrPermissionDenied.Error())
	case errors.Is(err, auth.ErrTenantContextMissing):
		return status.Error(codes.FailedPrecondition, auth.ErrTenantContextMissing.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrUnknownCategory):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		obs.Logger().ErrorContext(context.Background(), "grpc_call_failed", "error", err.Error())
		return status.Error(codes.Internal, "internal error")
	}
}
