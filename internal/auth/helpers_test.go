package auth

import (
	"context"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T, clock *testClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		Issuer:        "learnhub-test",
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

type fixture struct {
	store    *MemoryStore
	clock    *testClock
	codec    *TokenCodec
	service  *Service
	registry *Registry
	authz    *Authorizer
	tenant   Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: NewMemoryStore(), clock: &testClock{t: testNow}}
	f.codec = newTestCodec(t, f.clock)
	hasher, err := NewPasswordHasher(4)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	f.service, err = NewService(f.store, f.codec, WithPasswordHasher(hasher), WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.registry, err = NewRegistry(f.store, WithRegistryClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := f.registry.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	f.authz, err = NewAuthorizer(f.store, f.store)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	f.tenant, err = f.registry.CreateTenant(ctx, "Acme Academy")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return f
}

func (f *fixture) register(t *testing.T, email string, roles ...string) User {
	t.Helper()
	u, err := f.service.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "correct horse battery",
		Name:     "Test User",
		TenantID: f.tenant.ID,
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}
