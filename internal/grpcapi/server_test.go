package grpcapi

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"learnhub.io/internal/auth"
)

const bufSize = 1024 * 1024

type grpcEnv struct {
	client *Client
	conn   *grpc.ClientConn
	svc    *auth.Service
	tenant auth.Tenant
	other  auth.Tenant
}

func startBufGRPC(t *testing.T, policies Policies) *grpcEnv {
	t.Helper()
	ctx := context.Background()
	store := auth.NewMemoryStore()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{AccessSecret: "grpc-access", RefreshSecret: "grpc-refresh"})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	hasher, err := auth.NewPasswordHasher(4)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	svc, err := auth.NewService(store, codec, auth.WithPasswordHasher(hasher))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	registry, err := auth.NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	authz, err := auth.NewAuthorizer(store, store)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	resolver, err := auth.NewTenantResolver(store)
	if err != nil {
		t.Fatalf("NewTenantResolver: %v", err)
	}
	guard, err := NewGuard(svc, authz, resolver, policies)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	env := &grpcEnv{svc: svc}
	if env.tenant, err = registry.CreateTenant(ctx, "Acme Academy"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if env.other, err = registry.CreateTenant(ctx, "Globex Institute"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	listener := bufconn.Listen(bufSize)
	server, _ := NewServer(guard, NewAuthzService(authz, resolver))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	env.client, err = Dial("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	env.conn = env.client.conn
	t.Cleanup(func() {
		_ = env.client.Close()
		server.GracefulStop()
		_ = listener.Close()
	})
	return env
}

func (e *grpcEnv) token(t *testing.T, email string, roles ...string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.Register(ctx, auth.RegisterInput{
		Email:    email,
		Password: "correct horse battery",
		TenantID: e.tenant.ID,
		Roles:    roles,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := e.svc.Login(ctx, email, "correct horse battery", auth.ClientInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return session.AccessToken
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHealthIsPublic(t *testing.T) {
	env := startBufGRPC(t, DefaultPolicies())
	resp, err := healthpb.NewHealthClient(env.conn).Check(testContext(t), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestCheckRequiresBearer(t *testing.T) {
	env := startBufGRPC(t, DefaultPolicies())
	_, err := env.client.Check(testContext(t), "", auth.TenantHints{}, []string{auth.PermCoursesRead}, nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	_, err = env.client.Check(testContext(t), "garbage", auth.TenantHints{}, []string{auth.PermCoursesRead}, nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for bad token, got %v", err)
	}
}

func TestCheckDecisions(t *testing.T) {
	env := startBufGRPC(t, DefaultPolicies())
	token := env.token(t, "learner@acme.test")
	ctx := testContext(t)

	d, err := env.client.Check(ctx, token, auth.TenantHints{}, []string{auth.PermCoursesRead, auth.PermLiveClassesJoin}, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.TenantID != env.tenant.ID {
		t.Fatalf("expected allowed in %s, got %+v", env.tenant.ID, d)
	}

	d, err = env.client.Check(ctx, token, auth.TenantHints{}, []string{auth.PermCoursesRead, "courses.delete"}, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || !strings.Contains(d.Reason, "courses.delete") {
		t.Fatalf("expected denial naming courses.delete, got %+v", d)
	}

	d, err = env.client.Check(ctx, token, auth.TenantHints{TenantID: env.other.ID}, []string{auth.PermCoursesRead}, nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("cross-tenant check must be denied, got %+v", d)
	}

	if _, err := env.client.Check(ctx, token, auth.TenantHints{}, nil, nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for empty check, got %v", err)
	}
}

func TestPolicyEnforcedByInterceptor(t *testing.T) {
	policies := DefaultPolicies()
	policies[MethodWhoami] = Policy{Permissions: []string{auth.PermRolesRead}}
	delete(policies, MethodCheck)
	env := startBufGRPC(t, policies)
	ctx := testContext(t)

	learner := env.token(t, "learner@acme.test")
	_, _, err := env.client.Whoami(ctx, learner, auth.TenantHints{})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	admin := env.token(t, "admin@acme.test", auth.RoleTenantAdmin)
	p, perms, err := env.client.Whoami(ctx, admin, auth.TenantHints{})
	if err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	if p.TenantID != env.tenant.ID || !slices.Contains(p.Roles, auth.RoleTenantAdmin) {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !slices.Contains(perms, auth.PermRolesRead) {
		t.Fatalf("expected roles.read among %v", perms)
	}

	// methods without a policy are closed
	_, err = env.client.Check(ctx, admin, auth.TenantHints{}, []string{auth.PermCoursesRead}, nil)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for undeclared method, got %v", err)
	}
}

func TestOutgoingWithCredentials(t *testing.T) {
	ctx := OutgoingWithCredentials(context.Background(), "tok", auth.TenantHints{CourseID: "c-1"})
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(MDAuthorization); len(got) != 1 || got[0] != "Bearer tok" {
		t.Fatalf("unexpected authorization: %v", got)
	}
	hints := HintsFromMetadata(md)
	if hints.CourseID != "c-1" || hints.TenantID != "" {
		t.Fatalf("unexpected hints: %+v", hints)
	}
}
