package auth

import "strings"

// Permission categories.
const (
	CategoryCourses     = "courses"
	CategoryModules     = "modules"
	CategoryLessons     = "lessons"
	CategoryLiveClasses = "live_classes"
	CategoryLicenses    = "licenses"
	CategoryUsers       = "users"
	CategoryRoles       = "roles"
	CategoryTenants     = "tenants"
)

// Builtin role codes besides the bypass roles.
const (
	RoleTenantAdmin = "tenant_admin"
	RoleTrainer     = "trainer"
	RoleLearner     = "learner"
)

// Permission codes referenced by the REST and gRPC surfaces.
const (
	PermRolesRead              = "roles.read"
	PermRolesCreate            = "roles.create"
	PermRolesDelete            = "roles.delete"
	PermRolesAssignPermissions = "roles.assign_permissions"
	PermPermissionsCreate      = "permissions.create"
	PermUsersAssignRoles       = "users.assign_roles"
	PermUsersUpdate            = "users.update"
	PermUsersRead              = "users.read"
	PermLiveClassesJoin        = "live_classes.join"
	PermLicensesManage         = "licenses.manage"
	PermCoursesRead            = "courses.read"
)

// BuiltinCategories lists every category of the builtin catalog in display order.
var BuiltinCategories = []string{
	CategoryCourses, CategoryModules, CategoryLessons, CategoryLiveClasses,
	CategoryLicenses, CategoryUsers, CategoryRoles, CategoryTenants,
}

var crudActions = []string{"create", "read", "update", "delete"}

// BuiltinPermissions is the seeded permission catalog.
var BuiltinPermissions = func() []PermissionInput {
	var out []PermissionInput
	for _, cat := range BuiltinCategories {
		for _, action := range crudActions {
			out = append(out, builtinPermission(cat, cat, action))
		}
	}
	return append(out,
		builtinPermission(CategoryLiveClasses, CategoryLiveClasses, "join"),
		builtinPermission(CategoryLicenses, CategoryLicenses, "manage"),
		builtinPermission(CategoryUsers, CategoryUsers, "assign_roles"),
		builtinPermission(CategoryRoles, CategoryRoles, "assign_permissions"),
		builtinPermission(CategoryRoles, "permissions", "create"),
	)
}()

func builtinPermission(category, resource, action string) PermissionInput {
	label := strings.ReplaceAll(resource, "_", " ")
	return PermissionInput{
		Code:        resource + "." + action,
		Name:        strings.ReplaceAll(action, "_", " ") + " " + label,
		Description: "Builtin permission to " + strings.ReplaceAll(action, "_", " ") + " " + label,
		Resource:    resource,
		Action:      action,
		Category:    category,
		system:      true,
	}
}

// BuiltinRole is a seeded system role and the categories or codes it is granted.
type BuiltinRole struct {
	Role        RoleInput
	Categories  []string
	Permissions []string
}

// tenantCategories are the categories whose grants stay inside one tenant.
// Roles and permissions are global, so the registry categories are left out
// and registry writes are reserved to platform_admin.
var tenantCategories = []string{
	CategoryCourses, CategoryModules, CategoryLessons, CategoryLiveClasses,
	CategoryLicenses, CategoryUsers,
}

// BuiltinRoles lists the system roles. platform_admin carries no grants
// because the engine bypasses it. org_admin holds the tenant admin grants and
// may act in any tenant without a membership row.
var BuiltinRoles = []BuiltinRole{
	{Role: RoleInput{Code: RolePlatformAdmin, Name: "Platform admin", Category: "platform", IsSystem: true}},
	{
		Role:        RoleInput{Code: RoleOrgAdmin, Name: "Organization admin", Category: "platform", IsSystem: true},
		Categories:  tenantCategories,
		Permissions: []string{PermRolesRead},
	},
	{
		Role:        RoleInput{Code: RoleTenantAdmin, Name: "Tenant admin", Category: "tenant", IsSystem: true},
		Categories:  tenantCategories,
		Permissions: []string{PermRolesRead},
	},
	{
		Role:       RoleInput{Code: RoleTrainer, Name: "Trainer", Category: "tenant", IsSystem: true},
		Categories: []string{CategoryCourses, CategoryModules, CategoryLessons, CategoryLiveClasses},
	},
	{
		Role: RoleInput{Code: RoleLearner, Name: "Learner", Category: "tenant", IsSystem: true},
		Permissions: []string{
			"courses.read", "modules.read", "lessons.read", "live_classes.read", PermLiveClassesJoin,
		},
	},
}
