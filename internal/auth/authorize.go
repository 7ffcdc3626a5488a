package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
)

const (
	strategyPermission = "permission"
	strategyRole       = "role"
)

// DecisionCache memoizes "do these roles grant this permission" answers.
// Get reports the cache version it read from. Set stores under that
// version, so an answer computed before an Invalidate is never visible
// after it.
type DecisionCache interface {
	Get(ctx context.Context, key string) (allowed, found bool, version int64, err error)
	Set(ctx context.Context, key string, version int64, allowed bool) error
	Invalidate(ctx context.Context) error
}

// Authorizer decides whether a principal may proceed.
type Authorizer struct {
	perms    PermissionStore
	members  MembershipStore
	cache    DecisionCache
	observer Observer
	logger   *slog.Logger
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithDecisionCache enables caching of permission lookups.
func WithDecisionCache(c DecisionCache) AuthorizerOption {
	return func(a *Authorizer) { a.cache = c }
}

// WithDecisionObserver registers a metrics observer.
func WithDecisionObserver(o Observer) AuthorizerOption {
	return func(a *Authorizer) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithAuthorizerLogger sets the logger used to report cache failures.
func WithAuthorizerLogger(l *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAuthorizer builds the engine on top of the permission and membership stores.
func NewAuthorizer(perms PermissionStore, members MembershipStore, opts ...AuthorizerOption) (*Authorizer, error) {
	if perms == nil || members == nil {
		return nil, errors.New("auth: permission and membership stores are required")
	}
	a := &Authorizer{perms: perms, members: members, observer: nopObserver{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authorize requires every permission in perms (logical AND). platform_admin
// passes unconditionally, before any tenant check. The returned error is nil,
// ErrTenantContextMissing, a *PermissionDeniedError or a store failure.
func (a *Authorizer) Authorize(ctx context.Context, p Principal, perms ...string) error {
	err := a.authorize(ctx, p, perms)
	a.observer.Decision(strategyPermission, err == nil)
	return err
}

func (a *Authorizer) authorize(ctx context.Context, p Principal, perms []string) error {
	if p.IsPlatformAdmin() {
		return nil
	}
	if strings.TrimSpace(p.TenantID) == "" {
		return ErrTenantContextMissing
	}
	required := NormalizeCodes(perms)
	if len(p.Roles) == 0 {
		if len(required) == 0 {
			return &PermissionDeniedError{}
		}
		return denied(required[0])
	}
	for _, code := range required {
		ok, err := a.granted(ctx, p.Roles, code)
		if err != nil {
			return err
		}
		if !ok {
			return denied(code)
		}
	}
	return nil
}

// HasPermission reports whether the principal holds a single permission.
func (a *Authorizer) HasPermission(ctx context.Context, p Principal, code string) (bool, error) {
	if p.IsPlatformAdmin() {
		return true, nil
	}
	if strings.TrimSpace(p.TenantID) == "" || len(p.Roles) == 0 {
		return false, nil
	}
	return a.granted(ctx, p.Roles, normalizeCode(code))
}

// AuthorizeByRole is the coarse role gate: allowed when the principal's roles
// intersect required. platform_admin always passes; org_admin needs no
// membership row; everyone else needs a membership in the principal's tenant.
func (a *Authorizer) AuthorizeByRole(ctx context.Context, p Principal, required ...string) error {
	err := a.authorizeByRole(ctx, p, required)
	a.observer.Decision(strategyRole, err == nil)
	return err
}

func (a *Authorizer) authorizeByRole(ctx context.Context, p Principal, required []string) error {
	if p.IsPlatformAdmin() {
		return nil
	}
	want := NormalizeCodes(required)
	if strings.TrimSpace(p.TenantID) == "" {
		return ErrTenantContextMissing
	}
	if len(want) == 0 {
		return nil
	}
	effective := p.Roles
	if !p.HasRole(RoleOrgAdmin) {
		m, err := a.members.Membership(ctx, p.UserID, p.TenantID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &PermissionDeniedError{Roles: want}
			}
			return err
		}
		effective = NormalizeCodes(append(append([]string(nil), m.Roles...), p.Roles...))
	}
	for _, r := range want {
		if slices.Contains(effective, r) {
			return nil
		}
	}
	return &PermissionDeniedError{Roles: want}
}

// ScopePrincipal binds the principal to the tenant resolved from the request.
// A principal without a tenant adopts the resolved one together with that
// membership's roles; switching away from the token's tenant is reserved to
// bypass roles.
func (a *Authorizer) ScopePrincipal(ctx context.Context, p Principal, resolvedTenantID string) (Principal, error) {
	resolvedTenantID = strings.TrimSpace(resolvedTenantID)
	if resolvedTenantID == "" || resolvedTenantID == p.TenantID {
		return p, nil
	}
	if p.bypassesMembership() {
		p.TenantID = resolvedTenantID
		return p, nil
	}
	if p.TenantID != "" {
		return Principal{}, &PermissionDeniedError{}
	}
	m, err := a.members.Membership(ctx, p.UserID, resolvedTenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, &PermissionDeniedError{}
		}
		return Principal{}, err
	}
	p.TenantID = resolvedTenantID
	p.Roles = NormalizeCodes(append(append([]string(nil), p.Roles...), m.Roles...))
	return p, nil
}

// EffectivePermissions lists the permission codes granted to the principal's roles.
func (a *Authorizer) EffectivePermissions(ctx context.Context, p Principal) ([]string, error) {
	if len(p.Roles) == 0 || (p.TenantID == "" && !p.IsPlatformAdmin()) {
		return nil, nil
	}
	codes, err := a.perms.PermissionCodesForRoles(ctx, p.Roles)
	if err != nil {
		return nil, err
	}
	slices.Sort(codes)
	return slices.Compact(codes), nil
}

// granted checks one permission code against a role set. Undeclared
// permissions never pass.
func (a *Authorizer) granted(ctx context.Context, roles []string, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	key := decisionKey(code, roles)
	cacheable := false
	var version int64
	if a.cache != nil {
		allowed, found, v, err := a.cache.Get(ctx, key)
		switch {
		case err != nil:
			a.logger.WarnContext(ctx, "authz_cache_get_failed", "error", err)
		case found:
			return allowed, nil
		default:
			cacheable, version = true, v
		}
	}
	perm, err := a.perms.PermissionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, err := a.perms.RolesGrantPermission(ctx, perm.ID, roles)
	if err != nil {
		return false, err
	}
	if cacheable {
		if err := a.cache.Set(ctx, key, version, ok); err != nil {
			a.logger.WarnContext(ctx, "authz_cache_set_failed", "error", err)
		}
	}
	return ok, nil
}

func decisionKey(code string, roles []string) string {
	sorted := append([]string(nil), roles...)
	slices.Sort(sorted)
	return code + "|" + strings.Join(sorted, ",")
}
