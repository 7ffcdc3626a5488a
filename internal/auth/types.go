package auth

import "time"

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// Bypass role codes.
const (
	RolePlatformAdmin = "platform_admin"
	RoleOrgAdmin      = "org_admin"
)

// Tenant is an isolation boundary for one customer organization.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the identity anchor. PlatformRoles are global and tenant independent.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	PlatformRoles []string  `json:"platform_roles,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Active reports whether the user may authenticate.
func (u User) Active() bool { return u.Status == UserStatusActive }

// UserTenant is the membership of a user in a tenant with tenant-scoped role codes.
type UserTenant struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability identified by "resource.action".
type Permission struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Resource        string    `json:"resource"`
	Action          string    `json:"action"`
	Category        string    `json:"category"`
	IsSystemDefined bool      `json:"is_system_defined"`
	CreatedAt       time.Time `json:"created_at"`
}

// RolePermission links roles to permissions.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is a persisted refresh session. The raw token is never stored.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAt    time.Time
	Revoked      bool
	ReplacedByID string
	CreatedAt    time.Time
	IP           string
	UserAgent    string
}

// Usable reports whether the record can still be presented at time now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// ClientInfo describes the client that presented a credential.
type ClientInfo struct {
	IP        string
	UserAgent string
}
