package auth

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development mode and tests.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]User
	tenants     map[string]Tenant
	memberships map[string]UserTenant // userID|tenantID
	roles       map[string]Role
	permissions map[string]Permission
	grants      map[string]RolePermission // roleID|permissionID
	refresh     map[string]RefreshToken

	courses     map[string]string // course -> tenant
	modules     map[string]string // module -> course
	lessons     map[string]string // lesson -> module
	liveClasses map[string]string // live class -> tenant
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		tenants:     make(map[string]Tenant),
		memberships: make(map[string]UserTenant),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		grants:      make(map[string]RolePermission),
		refresh:     make(map[string]RefreshToken),
		courses:     make(map[string]string),
		modules:     make(map[string]string),
		lessons:     make(map[string]string),
		liveClasses: make(map[string]string),
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func (m *MemoryStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	stored := *u
	stored.PlatformRoles = NormalizeCodes(u.PlatformRoles)
	m.users[u.ID] = stored
	return nil
}

func (m *MemoryStore) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return m.updateUser(userID, func(u *User) { u.PasswordHash = passwordHash })
}

func (m *MemoryStore) UpdateStatus(_ context.Context, userID, status string) error {
	return m.updateUser(userID, func(u *User) { u.Status = status })
}

func (m *MemoryStore) updateUser(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// SetPlatformRoles replaces the platform-level roles of a user.
func (m *MemoryStore) SetPlatformRoles(_ context.Context, userID string, roles []string) error {
	return m.updateUser(userID, func(u *User) { u.PlatformRoles = NormalizeCodes(roles) })
}

// DeleteUser removes the user with its memberships and refresh tokens.
func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	for key, ut := range m.memberships {
		if ut.UserID == id {
			delete(m.memberships, key)
		}
	}
	for key, t := range m.refresh {
		if t.UserID == id {
			delete(m.refresh, key)
		}
	}
	return nil
}

func (m *MemoryStore) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Name == t.Name {
			return ErrConflict
		}
	}
	m.tenants[t.ID] = *t
	return nil
}

func (m *MemoryStore) TenantByID(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) Membership(_ context.Context, userID, tenantID string) (UserTenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ut, ok := m.memberships[pairKey(userID, tenantID)]
	if !ok {
		return UserTenant{}, ErrNotFound
	}
	ut.Roles = slices.Clone(ut.Roles)
	return ut, nil
}

func (m *MemoryStore) MembershipsForUser(_ context.Context, userID string) ([]UserTenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserTenant
	for _, ut := range m.memberships {
		if ut.UserID == userID {
			ut.Roles = slices.Clone(ut.Roles)
			out = append(out, ut)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertMembership(_ context.Context, ut *UserTenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.memberships {
		if existing.UserID == ut.UserID && existing.TenantID != ut.TenantID {
			return ErrConflict
		}
	}
	key := pairKey(ut.UserID, ut.TenantID)
	stored := *ut
	stored.Roles = slices.Clone(ut.Roles)
	if existing, ok := m.memberships[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	m.memberships[key] = stored
	return nil
}

func (m *MemoryStore) MergeMembershipRoles(_ context.Context, ut *UserTenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.memberships {
		if existing.UserID == ut.UserID && existing.TenantID != ut.TenantID {
			return ErrConflict
		}
	}
	key := pairKey(ut.UserID, ut.TenantID)
	stored := *ut
	if existing, ok := m.memberships[key]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.Roles = NormalizeCodes(append(slices.Clone(existing.Roles), ut.Roles...))
	} else {
		stored.Roles = NormalizeCodes(ut.Roles)
	}
	if stored.Roles == nil {
		stored.Roles = []string{}
	}
	m.memberships[key] = stored
	ut.CreatedAt = stored.CreatedAt
	ut.Roles = slices.Clone(stored.Roles)
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, tenantID string) ([]UserTenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserTenant
	for _, ut := range m.memberships {
		if ut.TenantID == tenantID {
			ut.Roles = slices.Clone(ut.Roles)
			out = append(out, ut)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Code == r.Code {
			return ErrConflict
		}
	}
	m.roles[r.ID] = *r
	return nil
}

func (m *MemoryStore) RoleByCode(_ context.Context, code string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for key, g := range m.grants {
		if g.RoleID == id {
			delete(m.grants, key)
		}
	}
	return nil
}

func (m *MemoryStore) CreatePermission(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.Code == p.Code {
			return ErrConflict
		}
	}
	m.permissions[p.ID] = *p
	return nil
}

func (m *MemoryStore) PermissionByCode(_ context.Context, code string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.permissions {
		if p.Code == code {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *MemoryStore) PermissionByID(_ context.Context, id string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context) ([]Permission, error) {
	return m.filterPermissions(func(Permission) bool { return true }), nil
}

func (m *MemoryStore) PermissionsByCategory(_ context.Context, category string) ([]Permission, error) {
	return m.filterPermissions(func(p Permission) bool { return p.Category == category }), nil
}

func (m *MemoryStore) filterPermissions(keep func(Permission) bool) []Permission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for _, p := range m.permissions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *MemoryStore) Categories(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.permissions {
		if p.Category != "" && !slices.Contains(out, p.Category) {
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) GrantPermission(_ context.Context, roleID, permissionID string) (RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return RolePermission{}, ErrNotFound
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return RolePermission{}, ErrNotFound
	}
	key := pairKey(roleID, permissionID)
	if g, ok := m.grants[key]; ok {
		return g, nil
	}
	g := RolePermission{RoleID: roleID, PermissionID: permissionID, CreatedAt: time.Now().UTC()}
	m.grants[key] = g
	return g, nil
}

func (m *MemoryStore) RevokePermission(_ context.Context, roleID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(roleID, permissionID)
	if _, ok := m.grants[key]; !ok {
		return ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *MemoryStore) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for _, g := range m.grants {
		if g.RoleID == roleID {
			out = append(out, m.permissions[g.PermissionID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) RolesGrantPermission(_ context.Context, permissionID string, roleCodes []string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.grants {
		if g.PermissionID != permissionID {
			continue
		}
		if r, ok := m.roles[g.RoleID]; ok && slices.Contains(roleCodes, r.Code) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) PermissionCodesForRoles(_ context.Context, roleCodes []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, g := range m.grants {
		r, ok := m.roles[g.RoleID]
		if !ok || !slices.Contains(roleCodes, r.Code) {
			continue
		}
		if p, ok := m.permissions[g.PermissionID]; ok && !slices.Contains(out, p.Code) {
			out = append(out, p.Code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) CreateRefreshToken(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRefreshLocked(*t)
}

func (m *MemoryStore) insertRefreshLocked(t RefreshToken) error {
	if _, ok := m.refresh[t.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.refresh {
		if existing.TokenHash == t.TokenHash {
			return ErrConflict
		}
	}
	m.refresh[t.ID] = t
	return nil
}

func (m *MemoryStore) ActiveRefreshTokens(_ context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RefreshToken
	for _, t := range m.refresh {
		if t.UserID == userID && t.Usable(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RotateRefreshToken(_ context.Context, oldID string, next *RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refresh[oldID]
	if !ok {
		return ErrNotFound
	}
	if !old.Usable(now) {
		return ErrInvalidRefreshToken
	}
	if err := m.insertRefreshLocked(*next); err != nil {
		return err
	}
	old.Revoked = true
	old.ReplacedByID = next.ID
	m.refresh[oldID] = old
	return nil
}

func (m *MemoryStore) RevokeRefreshToken(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok || t.Revoked {
		return false, nil
	}
	t.Revoked = true
	m.refresh[id] = t
	return true, nil
}

func (m *MemoryStore) RevokeUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			m.refresh[id] = t
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if t.ExpiresAt.Before(before) {
			delete(m.refresh, id)
			n++
		}
	}
	return n, nil
}

// AddCourse records a course owned by tenantID.
func (m *MemoryStore) AddCourse(courseID, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[courseID] = tenantID
}

// AddModule records a module belonging to courseID.
func (m *MemoryStore) AddModule(moduleID, courseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[moduleID] = courseID
}

// AddLesson records a lesson belonging to moduleID.
func (m *MemoryStore) AddLesson(lessonID, moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[lessonID] = moduleID
}

// AddLiveClass records a live class owned by tenantID.
func (m *MemoryStore) AddLiveClass(liveClassID, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveClasses[liveClassID] = tenantID
}

func (m *MemoryStore) TenantIDByName(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) TenantIDForCourse(_ context.Context, courseID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.courseTenantLocked(courseID)
}

func (m *MemoryStore) courseTenantLocked(courseID string) (string, error) {
	tenant, ok := m.courses[courseID]
	if !ok {
		return "", ErrNotFound
	}
	return tenant, nil
}

func (m *MemoryStore) TenantIDForLiveClass(_ context.Context, liveClassID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenant, ok := m.liveClasses[liveClassID]
	if !ok {
		return "", ErrNotFound
	}
	return tenant, nil
}

func (m *MemoryStore) TenantIDForLesson(_ context.Context, lessonID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	moduleID, ok := m.lessons[lessonID]
	if !ok {
		return "", ErrNotFound
	}
	return m.moduleTenantLocked(moduleID)
}

func (m *MemoryStore) TenantIDForModule(_ context.Context, moduleID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.moduleTenantLocked(moduleID)
}

func (m *MemoryStore) moduleTenantLocked(moduleID string) (string, error) {
	courseID, ok := m.modules[moduleID]
	if !ok {
		return "", ErrNotFound
	}
	return m.courseTenantLocked(courseID)
}
