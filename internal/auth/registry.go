package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"learnhub.io/internal/ids"
)

// RoleInput describes a role to create.
type RoleInput struct {
	Code        string
	Name        string
	Description string
	Category    string
	IsSystem    bool
}

// PermissionInput describes a permission to create. Resource and Action
// default to the two halves of Code.
type PermissionInput struct {
	Code        string
	Name        string
	Description string
	Resource    string
	Action      string
	Category    string

	system bool
}

// CategoryAssignment reports a bulk grant.
type CategoryAssignment struct {
	AssignedCount int          `json:"assigned_count"`
	Permissions   []Permission `json:"permissions"`
}

// Registry manages roles, permissions, grants and memberships.
type Registry struct {
	store  Store
	cache  DecisionCache
	logger *slog.Logger
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryCache sets the decision cache invalidated on grant changes.
func WithRegistryCache(c DecisionCache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryClock overrides the time source.
func WithRegistryClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry returns a registry over store.
func NewRegistry(store Store, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	r := &Registry{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateRole creates a role with a unique code.
func (r *Registry) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	code := normalizeCode(in.Code)
	if code == "" {
		return Role{}, fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	if strings.ContainsAny(code, " ,|") {
		return Role{}, fmt.Errorf("%w: role code %q contains invalid characters", ErrInvalidInput, code)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = code
	}
	now := r.now().UTC()
	role := Role{
		ID:          ids.NewAt(now),
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    normalizeCode(in.Category),
		IsSystem:    in.IsSystem,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateRole(ctx, &role); err != nil {
		if errors.Is(err, ErrConflict) {
			return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRoleCode, code)
		}
		return Role{}, err
	}
	return role, nil
}

// CreatePermission declares a permission. Code must have the form resource.action.
func (r *Registry) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	code := normalizeCode(in.Code)
	resource, action, ok := strings.Cut(code, ".")
	if !ok || resource == "" || action == "" || strings.Contains(action, ".") {
		return Permission{}, fmt.Errorf("%w: permission code %q must be resource.action", ErrInvalidInput, in.Code)
	}
	if v := normalizeCode(in.Resource); v != "" && v != resource {
		return Permission{}, fmt.Errorf("%w: resource %q does not match code %q", ErrInvalidInput, v, code)
	}
	if v := normalizeCode(in.Action); v != "" && v != action {
		return Permission{}, fmt.Errorf("%w: action %q does not match code %q", ErrInvalidInput, v, code)
	}
	category := normalizeCode(in.Category)
	if category == "" {
		category = resource
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = code
	}
	perm := Permission{
		ID:              ids.NewAt(r.now()),
		Code:            code,
		Name:            name,
		Description:     strings.TrimSpace(in.Description),
		Resource:        resource,
		Action:          action,
		Category:        category,
		IsSystemDefined: in.system,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.store.CreatePermission(ctx, &perm); err != nil {
		if errors.Is(err, ErrConflict) {
			return Permission{}, fmt.Errorf("%w: %s", ErrDuplicatePermissionCode, code)
		}
		return Permission{}, err
	}
	return perm, nil
}

// AssignPermissionToRole grants one permission, addressed by code or id.
// Granting an existing pair returns the existing link.
func (r *Registry) AssignPermissionToRole(ctx context.Context, roleCode, permission string) (RolePermission, error) {
	role, err := r.roleByCode(ctx, roleCode)
	if err != nil {
		return RolePermission{}, err
	}
	perm, err := r.permissionByCodeOrID(ctx, permission)
	if err != nil {
		return RolePermission{}, err
	}
	link, err := r.store.GrantPermission(ctx, role.ID, perm.ID)
	if err != nil {
		return RolePermission{}, err
	}
	r.invalidate(ctx)
	return link, nil
}

// AssignPermissionsByCategory grants every permission of category to the role.
func (r *Registry) AssignPermissionsByCategory(ctx context.Context, roleCode, category string) (CategoryAssignment, error) {
	category = normalizeCode(category)
	role, err := r.roleByCode(ctx, roleCode)
	if err != nil {
		return CategoryAssignment{}, err
	}
	valid, err := r.store.Categories(ctx)
	if err != nil {
		return CategoryAssignment{}, err
	}
	if !slices.Contains(valid, category) {
		return CategoryAssignment{}, &UnknownCategoryError{Category: category, Valid: valid}
	}
	perms, err := r.store.PermissionsByCategory(ctx, category)
	if err != nil {
		return CategoryAssignment{}, err
	}
	for _, p := range perms {
		if _, err := r.store.GrantPermission(ctx, role.ID, p.ID); err != nil {
			return CategoryAssignment{}, err
		}
	}
	r.invalidate(ctx)
	return CategoryAssignment{AssignedCount: len(perms), Permissions: perms}, nil
}

// RevokePermissionFromRole removes a grant.
func (r *Registry) RevokePermissionFromRole(ctx context.Context, roleCode, permission string) error {
	role, err := r.roleByCode(ctx, roleCode)
	if err != nil {
		return err
	}
	perm, err := r.permissionByCodeOrID(ctx, permission)
	if err != nil {
		return err
	}
	if err := r.store.RevokePermission(ctx, role.ID, perm.ID); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// DeleteRole removes a non-system role and its grants.
func (r *Registry) DeleteRole(ctx context.Context, roleCode string) error {
	role, err := r.roleByCode(ctx, roleCode)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRole, role.Code)
	}
	if err := r.store.DeleteRole(ctx, role.ID); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// AssignRolesToUserTenant creates the membership or replaces its role set.
// A user may hold only one tenant membership.
func (r *Registry) AssignRolesToUserTenant(ctx context.Context, userID, tenantID string, roles []string) (UserTenant, error) {
	return r.writeMembership(ctx, userID, tenantID, roles, false)
}

// MergeRolesToUserTenant adds roles to the membership, creating it if absent.
func (r *Registry) MergeRolesToUserTenant(ctx context.Context, userID, tenantID string, roles []string) (UserTenant, error) {
	return r.writeMembership(ctx, userID, tenantID, roles, true)
}

func (r *Registry) writeMembership(ctx context.Context, userID, tenantID string, roles []string, merge bool) (UserTenant, error) {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return UserTenant{}, fmt.Errorf("%w: user id and tenant id are required", ErrInvalidInput)
	}
	codes, err := membershipRoles(ctx, r.store, roles)
	if err != nil {
		return UserTenant{}, err
	}
	if _, err := r.store.UserByID(ctx, userID); err != nil {
		return UserTenant{}, err
	}
	if _, err := r.store.TenantByID(ctx, tenantID); err != nil {
		return UserTenant{}, err
	}
	existing, err := r.store.MembershipsForUser(ctx, userID)
	if err != nil {
		return UserTenant{}, err
	}
	now := r.now().UTC()
	m := UserTenant{UserID: userID, TenantID: tenantID, Roles: codes, CreatedAt: now, UpdatedAt: now}
	for _, e := range existing {
		if e.TenantID != tenantID {
			r.logger.InfoContext(ctx, "membership_rejected", "user_id", userID, "tenant_id", tenantID, "member_of", e.TenantID)
			return UserTenant{}, ErrMembershipExists
		}
		m.CreatedAt = e.CreatedAt
	}
	if m.Roles == nil {
		m.Roles = []string{}
	}
	write := r.store.UpsertMembership
	if merge {
		write = r.store.MergeMembershipRoles
	}
	if err := write(ctx, &m); err != nil {
		if errors.Is(err, ErrConflict) {
			return UserTenant{}, ErrMembershipExists
		}
		return UserTenant{}, err
	}
	return m, nil
}

// membershipRoles normalizes tenant role codes and checks that each names an
// existing role other than platform_admin.
func membershipRoles(ctx context.Context, store RoleStore, roles []string) ([]string, error) {
	codes := NormalizeCodes(roles)
	for _, code := range codes {
		if code == RolePlatformAdmin {
			return nil, fmt.Errorf("%w: %s is a platform role", ErrInvalidInput, code)
		}
		if _, err := lookupRole(ctx, store, code); err != nil {
			return nil, err
		}
	}
	return codes, nil
}

// ListMembers returns the memberships of a tenant.
func (r *Registry) ListMembers(ctx context.Context, tenantID string) ([]UserTenant, error) {
	if _, err := r.store.TenantByID(ctx, tenantID); err != nil {
		return nil, err
	}
	return r.store.ListMembers(ctx, tenantID)
}

// ListRoles returns every role.
func (r *Registry) ListRoles(ctx context.Context) ([]Role, error) {
	return r.store.ListRoles(ctx)
}

// ListPermissions returns the catalog, optionally narrowed to one category.
func (r *Registry) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	if category = normalizeCode(category); category != "" {
		return r.store.PermissionsByCategory(ctx, category)
	}
	return r.store.ListPermissions(ctx)
}

// Categories returns the distinct permission categories.
func (r *Registry) Categories(ctx context.Context) ([]string, error) {
	return r.store.Categories(ctx)
}

// RolePermissions returns the permissions granted to a role.
func (r *Registry) RolePermissions(ctx context.Context, roleCode string) ([]Permission, error) {
	role, err := r.roleByCode(ctx, roleCode)
	if err != nil {
		return nil, err
	}
	return r.store.PermissionsForRole(ctx, role.ID)
}

// CreateTenant creates a tenant with a unique name.
func (r *Registry) CreateTenant(ctx context.Context, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	now := r.now().UTC()
	t := Tenant{ID: ids.NewAt(now), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := r.store.CreateTenant(ctx, &t); err != nil {
		if errors.Is(err, ErrConflict) {
			return Tenant{}, fmt.Errorf("%w: tenant %s already exists", ErrConflict, name)
		}
		return Tenant{}, err
	}
	return t, nil
}

// EnsureBuiltins seeds the builtin permissions, system roles and their
// default grants. Existing rows are left untouched.
func (r *Registry) EnsureBuiltins(ctx context.Context) error {
	for _, in := range BuiltinPermissions {
		if _, err := r.store.PermissionByCode(ctx, in.Code); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := r.CreatePermission(ctx, in); err != nil && !errors.Is(err, ErrDuplicatePermissionCode) {
			return fmt.Errorf("seed permission %s: %w", in.Code, err)
		}
	}
	for _, b := range BuiltinRoles {
		role, err := r.store.RoleByCode(ctx, b.Role.Code)
		if errors.Is(err, ErrNotFound) {
			role, err = r.CreateRole(ctx, b.Role)
			if errors.Is(err, ErrDuplicateRoleCode) {
				role, err = r.store.RoleByCode(ctx, b.Role.Code)
			}
		}
		if err != nil {
			return fmt.Errorf("seed role %s: %w", b.Role.Code, err)
		}
		for _, cat := range b.Categories {
			perms, err := r.store.PermissionsByCategory(ctx, cat)
			if err != nil {
				return err
			}
			for _, p := range perms {
				if _, err := r.store.GrantPermission(ctx, role.ID, p.ID); err != nil {
					return fmt.Errorf("seed grant %s to %s: %w", p.Code, role.Code, err)
				}
			}
		}
		for _, code := range b.Permissions {
			p, err := r.store.PermissionByCode(ctx, code)
			if err != nil {
				return fmt.Errorf("seed grant %s to %s: %w", code, role.Code, err)
			}
			if _, err := r.store.GrantPermission(ctx, role.ID, p.ID); err != nil {
				return fmt.Errorf("seed grant %s to %s: %w", code, role.Code, err)
			}
		}
	}
	r.invalidate(ctx)
	r.logger.InfoContext(ctx, "builtins_ensured", "permissions", len(BuiltinPermissions), "roles", len(BuiltinRoles))
	return nil
}

func (r *Registry) roleByCode(ctx context.Context, code string) (Role, error) {
	return lookupRole(ctx, r.store, code)
}

func lookupRole(ctx context.Context, store RoleStore, code string) (Role, error) {
	code = normalizeCode(code)
	if code == "" {
		return Role{}, fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	role, err := store.RoleByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, code)
		}
		return Role{}, err
	}
	return role, nil
}

func (r *Registry) permissionByCodeOrID(ctx context.Context, ref string) (Permission, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Permission{}, fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	perm, err := r.store.PermissionByCode(ctx, normalizeCode(ref))
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	if ids.Valid(ref) {
		perm, err = r.store.PermissionByID(ctx, ref)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return perm, err
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, ref)
}

func (r *Registry) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		r.logger.WarnContext(ctx, "authz_cache_invalidate_failed", "error", err)
	}
}
