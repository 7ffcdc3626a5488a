package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	UserStore
	TenantStore
	MembershipStore
	RoleStore
	PermissionStore
	RefreshTokenStore
	OwnershipLookup
}

// UserStore is the credential store.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateStatus(ctx context.Context, userID, status string) error
	SetPlatformRoles(ctx context.Context, userID string, roles []string) error
	DeleteUser(ctx context.Context, id string) error
}

// TenantStore manages tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	TenantByID(ctx context.Context, id string) (Tenant, error)
}

// MembershipStore manages UserTenant rows.
type MembershipStore interface {
	Membership(ctx context.Context, userID, tenantID string) (UserTenant, error)
	MembershipsForUser(ctx context.Context, userID string) ([]UserTenant, error)
	// UpsertMembership creates the membership or replaces its role set.
	UpsertMembership(ctx context.Context, m *UserTenant) error
	// MergeMembershipRoles atomically adds m.Roles to the membership, creating
	// it if absent, and stores the resulting role set back into m.
	MergeMembershipRoles(ctx context.Context, m *UserTenant) error
	ListMembers(ctx context.Context, tenantID string) ([]UserTenant, error)
}

// RoleStore manages roles.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	RoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, id string) error
}

// PermissionStore manages the permission catalog and role grants.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	PermissionByCode(ctx context.Context, code string) (Permission, error)
	PermissionByID(ctx context.Context, id string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByCategory(ctx context.Context, category string) ([]Permission, error)
	Categories(ctx context.Context) ([]string, error)
	// GrantPermission inserts the pair when absent and returns the stored row either way.
	GrantPermission(ctx context.Context, roleID, permissionID string) (RolePermission, error)
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	// RolesGrantPermission reports whether any role whose code is in roleCodes holds permissionID.
	RolesGrantPermission(ctx context.Context, permissionID string, roleCodes []string) (bool, error)
	PermissionCodesForRoles(ctx context.Context, roleCodes []string) ([]string, error)
}

// RefreshTokenStore persists hashed refresh sessions.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	// ActiveRefreshTokens returns the non-revoked, unexpired records of a user.
	ActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
	// RotateRefreshToken revokes oldID only if it is still non-revoked, points it at
	// next and inserts next, atomically. It returns ErrInvalidRefreshToken when
	// the old record was already revoked.
	RotateRefreshToken(ctx context.Context, oldID string, next *RefreshToken, now time.Time) error
	// RevokeRefreshToken flips revoked to true; false means it was already revoked.
	RevokeRefreshToken(ctx context.Context, id string) (bool, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// OwnershipLookup maps tenant-owned entities to their tenant. Every method
// returns ErrNotFound when the entity does not exist.
type OwnershipLookup interface {
	TenantIDByName(ctx context.Context, name string) (string, error)
	TenantIDForCourse(ctx context.Context, courseID string) (string, error)
	TenantIDForLiveClass(ctx context.Context, liveClassID string) (string, error)
	TenantIDForLesson(ctx context.Context, lessonID string) (string, error)
	TenantIDForModule(ctx context.Context, moduleID string) (string, error)
}
