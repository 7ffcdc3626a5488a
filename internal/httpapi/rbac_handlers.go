package httpapi

import (
	"net/http"
	"slices"
	"strings"

	"learnhub.io/internal/audit"
	"learnhub.io/internal/auth"
)

type createRoleRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
	Category    string `json:"category" validate:"max=64"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required,max=128"`
	Name        string `json:"name" validate:"max=200"`
	Description string `json:"description" validate:"max=1000"`
	Resource    string `json:"resource" validate:"max=64"`
	Action      string `json:"action" validate:"max=64"`
	Category    string `json:"category" validate:"max=64"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
}

type grantCategoryRequest struct {
	Category string `json:"category" validate:"required"`
}

type membershipRequest struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

type createTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type userStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.registry.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": nonNil(roles)})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	role, err := a.registry.CreateRole(r.Context(), auth.RoleInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{"role": role.Code})
	w.Header().Set("Location", "/v1/roles/"+role.Code)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := a.registry.DeleteRole(r.Context(), code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{"role": code})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.registry.RolePermissions(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req grantPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	rp, err := a.registry.AssignPermissionToRole(r.Context(), code, req.Permission)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.grant", map[string]any{
		"role":       code,
		"permission": req.Permission,
	})
	writeJSON(w, http.StatusOK, rp)
}

func (a *API) handleGrantCategory(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req grantCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := a.registry.AssignPermissionsByCategory(r.Context(), code, req.Category)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.grant_category", map[string]any{
		"role":     code,
		"category": req.Category,
		"assigned": res.AssignedCount,
	})
	res.Permissions = nonNil(res.Permissions)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	code, perm := r.PathValue("code"), r.PathValue("permission")
	if err := a.registry.RevokePermissionFromRole(r.Context(), code, perm); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoke", map[string]any{
		"role":       code,
		"permission": perm,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.registry.ListPermissions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	perm, err := a.registry.CreatePermission(r.Context(), auth.PermissionInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Resource:    req.Resource,
		Action:      req.Action,
		Category:    req.Category,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.create", map[string]any{"permission": perm.Code})
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.registry.Categories(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": nonNil(cats)})
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	tenant, err := a.registry.CreateTenant(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.create", map[string]any{
		"tenant": tenant.ID,
		"name":   tenant.Name,
	})
	w.Header().Set("Location", "/v1/tenants/"+tenant.ID)
	writeJSON(w, http.StatusCreated, tenant)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.registry.ListMembers(r.Context(), r.PathValue("tenantId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	a.writeMembership(w, r, false)
}

func (a *API) handleMergeRoles(w http.ResponseWriter, r *http.Request) {
	a.writeMembership(w, r, true)
}

func (a *API) writeMembership(w http.ResponseWriter, r *http.Request, merge bool) {
	tenantID, userID := r.PathValue("tenantId"), r.PathValue("userId")
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	if !caller.IsPlatformAdmin() && !caller.HasRole(auth.RoleOrgAdmin) && slices.ContainsFunc(req.Roles, isOrgAdmin) {
		writeServiceError(w, r, &auth.PermissionDeniedError{Roles: []string{auth.RolePlatformAdmin, auth.RoleOrgAdmin}})
		return
	}
	var (
		m   auth.UserTenant
		err error
	)
	event := "membership.assign"
	if merge {
		event = "membership.merge"
		m, err = a.registry.MergeRolesToUserTenant(r.Context(), userID, tenantID, req.Roles)
	} else {
		m, err = a.registry.AssignRolesToUserTenant(r.Context(), userID, tenantID, req.Roles)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"target_user":   userID,
		"target_tenant": tenantID,
		"roles":         m.Roles,
	})
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.ensureMember(r, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := a.svc.SetUserStatus(r.Context(), userID, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.status", map[string]any{
		"target_user": userID,
		"status":      user.Status,
	})
	writeJSON(w, http.StatusOK, user)
}

// ensureMember restricts tenant-scoped callers to users of their own tenant.
func (a *API) ensureMember(r *http.Request, userID string) error {
	p, _ := auth.PrincipalFromContext(r.Context())
	if p.IsPlatformAdmin() || p.HasRole(auth.RoleOrgAdmin) {
		return nil
	}
	members, err := a.registry.ListMembers(r.Context(), p.TenantID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return auth.ErrNotFound
}

func isOrgAdmin(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), auth.RoleOrgAdmin)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
