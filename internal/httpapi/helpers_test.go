package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"learnhub.io/internal/auth"
)

const testPassword = "correct horse battery"

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	api      *API
	store    *auth.MemoryStore
	svc      *auth.Service
	registry *auth.Registry
	tenant   auth.Tenant
	other    auth.Tenant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := auth.NewMemoryStore()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  "http-access-secret",
		RefreshSecret: "http-refresh-secret",
		Issuer:        "learnhub-test",
	})
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
	api, err := New(Options{
		Service:       svc,
		Registry:      registry,
		Authorizer:    authz,
		Resolver:      resolver,
		Version:       "test",
		RateBurst:     1000,
		RatePerSecond: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	env := &testEnv{t: t, srv: srv, api: api, store: store, svc: svc, registry: registry}
	if env.tenant, err = registry.CreateTenant(ctx, "Acme Academy"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if env.other, err = registry.CreateTenant(ctx, "Globex Institute"); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return env
}

// user registers an account; with a tenant it becomes a member holding roles.
func (e *testEnv) user(email, tenantID string, roles ...string) auth.User {
	e.t.Helper()
	u, err := e.svc.Register(context.Background(), auth.RegisterInput{
		Email:    email,
		Password: testPassword,
		Name:     email,
		TenantID: tenantID,
		Roles:    roles,
	})
	if err != nil {
		e.t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}

func (e *testEnv) platformAdmin(email string) auth.User {
	e.t.Helper()
	u := e.user(email, "")
	if err := e.store.SetPlatformRoles(context.Background(), u.ID, []string{auth.RolePlatformAdmin}); err != nil {
		e.t.Fatalf("SetPlatformRoles: %v", err)
	}
	return u
}

func (e *testEnv) login(email string) sessionResponse {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": testPassword}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	return decodeBody[sessionResponse](e.t, resp)
}

func (e *testEnv) token(email string) string {
	e.t.Helper()
	return e.login(email).AccessToken
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (e *testEnv) as(token string, method, path string, body any) *http.Response {
	e.t.Helper()
	return e.do(method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body.String())
	}
}
