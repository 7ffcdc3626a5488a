package auth

import (
	"slices"
	"strings"
)

// Principal is the authenticated identity with its tenant and role context.
// An empty TenantID means no tenant context.
type Principal struct {
	UserID   string
	Email    string
	TenantID string
	Roles    []string
}

// NewPrincipal builds a principal from a user and its membership in tenantID,
// merging platform roles into the tenant-scoped roles.
func NewPrincipal(user User, membership *UserTenant) Principal {
	p := Principal{UserID: user.ID, Email: user.Email}
	roles := append([]string(nil), user.PlatformRoles...)
	if membership != nil {
		p.TenantID = membership.TenantID
		roles = append(roles, membership.Roles...)
	}
	p.Roles = NormalizeCodes(roles)
	return p
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, normalizeCode(role))
}

// IsPlatformAdmin reports whether the principal bypasses every permission check.
func (p Principal) IsPlatformAdmin() bool { return p.HasRole(RolePlatformAdmin) }

// bypassesMembership reports whether the principal may act on any tenant
// without a membership row.
func (p Principal) bypassesMembership() bool {
	return p.HasRole(RolePlatformAdmin) || p.HasRole(RoleOrgAdmin)
}

// NormalizeCodes trims, lower-cases and deduplicates role or permission codes,
// preserving first-seen order.
func NormalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	var out []string
	for _, c := range codes {
		c = normalizeCode(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ToLower(code))
}
