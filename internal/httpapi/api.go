// Package httpapi exposes the session and authorization engine over REST.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"learnhub.io/internal/auth"
	"learnhub.io/internal/obs"
)

const (
	serviceName         = "learnhub-auth"
	defaultMaxBodyBytes = 1 << 20
	refreshCookieName   = "refresh_token"
	refreshCookiePath   = "/v1/auth"
)

// ReadyProbe runs named dependency checks; every check must pass.
type ReadyProbe struct {
	Checks map[string]func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) (map[string]string, error) {
	report := make(map[string]string, len(rp.Checks))
	var failed error
	for name, check := range rp.Checks {
		if err := check(ctx); err != nil {
			report[name] = "unavailable"
			failed = errors.Join(failed, err)
			continue
		}
		report[name] = "ok"
	}
	return report, failed
}

// Options wires the engine components into the HTTP layer.
type Options struct {
	Service        *auth.Service
	Registry       *auth.Registry
	Authorizer     *auth.Authorizer
	Resolver       *auth.TenantResolver
	Ready          ReadyProbe
	Version        string
	AllowedOrigins []string
	SecureCookies  bool
	MaxBodyBytes   int64
	RatePerSecond  float64
	RateBurst      int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	svc      *auth.Service
	registry *auth.Registry
	authz    *auth.Authorizer
	resolver *auth.TenantResolver
	ready    ReadyProbe
	version  string

	origins       []string
	secureCookies bool
	maxBody       int64
	limiter       *RateLimiter
	authLimiter   *RateLimiter
	routes        []route
}

// New builds the API and registers every route.
func New(opts Options) (*API, error) {
	if opts.Service == nil || opts.Registry == nil || opts.Authorizer == nil || opts.Resolver == nil {
		return nil, errors.New("httpapi: service, registry, authorizer and resolver are required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	authBurst := max(opts.RateBurst/4, 1)
	a := &API{
		mux:           http.NewServeMux(),
		svc:           opts.Service,
		registry:      opts.Registry,
		authz:         opts.Authorizer,
		resolver:      opts.Resolver,
		ready:         opts.Ready,
		version:       opts.Version,
		origins:       opts.AllowedOrigins,
		secureCookies: opts.SecureCookies,
		maxBody:       opts.MaxBodyBytes,
		limiter:       NewRateLimiter(opts.RatePerSecond, opts.RateBurst),
		authLimiter:   NewRateLimiter(opts.RatePerSecond/5, authBurst),
	}
	a.registerRoutes()
	return a, nil
}

func (a *API) registerRoutes() {
	// health/ready/metrics
	a.handle("GET /healthz", public(), a.Healthz)
	a.handle("GET /readyz", public(), a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// sessions
	a.handle("POST /v1/auth/register", credentialRoute(), a.handleRegister)
	a.handle("POST /v1/auth/login", credentialRoute(), a.handleLogin)
	a.handle("POST /v1/auth/refresh", credentialRoute(), a.handleRefresh)
	a.handle("POST /v1/auth/logout", public(), a.handleLogout)
	a.handle("GET /v1/auth/me", authenticated(), a.handleMe)
	a.handle("POST /v1/auth/password", authenticated(), a.handleChangePassword)
	a.handle("POST /v1/authz/check", authenticated(), a.handleCheck)

	// registry: roles and grants are shared by every tenant, so writes are
	// reserved to platform_admin
	registryWrite := roles(auth.RolePlatformAdmin)
	a.handle("GET /v1/roles", permissions(auth.PermRolesRead), a.handleListRoles)
	a.handle("POST /v1/roles", registryWrite, a.handleCreateRole)
	a.handle("DELETE /v1/roles/{code}", registryWrite, a.handleDeleteRole)
	a.handle("GET /v1/roles/{code}/permissions", permissions(auth.PermRolesRead), a.handleRolePermissions)
	a.handle("POST /v1/roles/{code}/permissions", registryWrite, a.handleGrantPermission)
	a.handle("POST /v1/roles/{code}/permissions/category", registryWrite, a.handleGrantCategory)
	a.handle("DELETE /v1/roles/{code}/permissions/{permission}", registryWrite, a.handleRevokePermission)
	a.handle("GET /v1/permissions", permissions(auth.PermRolesRead), a.handleListPermissions)
	a.handle("POST /v1/permissions", registryWrite, a.handleCreatePermission)
	a.handle("GET /v1/permissions/categories", permissions(auth.PermRolesRead), a.handleCategories)

	// tenants and memberships
	a.handle("POST /v1/tenants", roles(auth.RolePlatformAdmin), a.handleCreateTenant)
	a.handle("GET /v1/tenants/{tenantId}/members", roles(auth.RoleOrgAdmin, auth.RoleTenantAdmin), a.handleListMembers)
	a.handle("PUT /v1/tenants/{tenantId}/users/{userId}/roles", permissions(auth.PermUsersAssignRoles), a.handleAssignRoles)
	a.handle("PATCH /v1/tenants/{tenantId}/users/{userId}/roles", permissions(auth.PermUsersAssignRoles), a.handleMergeRoles)
	a.handle("POST /v1/users/{userId}/status", permissions(auth.PermUsersUpdate), a.handleUserStatus)
}

// Handler returns the http.Handler for the server with the middleware chain applied.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = a.limiter.Middleware(h)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Routes lists the registered patterns with their declared requirement.
func (a *API) Routes() []RouteInfo {
	out := make([]RouteInfo, 0, len(a.routes))
	for _, rt := range a.routes {
		out = append(out, RouteInfo{
			Pattern:     rt.pattern,
			Public:      rt.req.public,
			Permissions: append([]string(nil), rt.req.permissions...),
			Roles:       append([]string(nil), rt.req.roles...),
		})
	}
	return out
}

// RouteInfo describes one route for introspection.
type RouteInfo struct {
	Pattern     string   `json:"pattern"`
	Public      bool     `json:"public"`
	Permissions []string `json:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	report, err := a.ready.Check(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": report,
	})
}
