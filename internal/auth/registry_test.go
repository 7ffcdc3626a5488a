package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestAssignPermissionToRoleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	role, err := f.registry.CreateRole(ctx, RoleInput{Code: "Auditor", Name: "Auditor"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Code != "auditor" {
		t.Fatalf("role code not normalized: %q", role.Code)
	}

	first, err := f.registry.AssignPermissionToRole(ctx, "auditor", PermRolesRead)
	if err != nil {
		t.Fatalf("AssignPermissionToRole: %v", err)
	}
	perm, err := f.store.PermissionByCode(ctx, PermRolesRead)
	if err != nil {
		t.Fatalf("PermissionByCode: %v", err)
	}
	second, err := f.registry.AssignPermissionToRole(ctx, "auditor", perm.ID)
	if err != nil {
		t.Fatalf("AssignPermissionToRole by id: %v", err)
	}
	if first != second {
		t.Fatalf("second grant returned a different link: %+v vs %+v", first, second)
	}
	perms, err := f.registry.RolePermissions(ctx, "auditor")
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(perms) != 1 || perms[0].Code != PermRolesRead {
		t.Fatalf("unexpected grants: %+v", perms)
	}
}

func TestAssignPermissionsByUnknownCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.registry.AssignPermissionsByCategory(ctx, RoleTrainer, "payments")
	var unknown *UnknownCategoryError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCategoryError, got %v", err)
	}
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory match")
	}
	for _, c := range BuiltinCategories {
		if !slices.Contains(unknown.Valid, c) || !strings.Contains(err.Error(), c) {
			t.Fatalf("valid categories missing %q: %v", c, err)
		}
	}
}

func TestAssignPermissionsByCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.registry.CreateRole(ctx, RoleInput{Code: "billing"}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	got, err := f.registry.AssignPermissionsByCategory(ctx, "billing", CategoryLicenses)
	if err != nil {
		t.Fatalf("AssignPermissionsByCategory: %v", err)
	}
	if got.AssignedCount != 5 || len(got.Permissions) != 5 {
		t.Fatalf("expected 5 license permissions, got %+v", got)
	}
	again, err := f.registry.AssignPermissionsByCategory(ctx, "billing", CategoryLicenses)
	if err != nil || again.AssignedCount != 5 {
		t.Fatalf("repeat assignment = %+v, %v", again, err)
	}
}

func TestRegistryDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.registry.CreateRole(ctx, RoleInput{Code: RoleTrainer}); !errors.Is(err, ErrDuplicateRoleCode) {
		t.Fatalf("expected ErrDuplicateRoleCode, got %v", err)
	}
	if _, err := f.registry.CreatePermission(ctx, PermissionInput{Code: "Courses.Read"}); !errors.Is(err, ErrDuplicatePermissionCode) {
		t.Fatalf("expected ErrDuplicatePermissionCode, got %v", err)
	}
	for _, code := range []string{"courses", "courses.", ".read", "a.b.c"} {
		if _, err := f.registry.CreatePermission(ctx, PermissionInput{Code: code}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("code %q: expected ErrInvalidInput, got %v", code, err)
		}
	}
	perm, err := f.registry.CreatePermission(ctx, PermissionInput{Code: "reports.export"})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if perm.Resource != "reports" || perm.Action != "export" || perm.Category != "reports" || perm.IsSystemDefined {
		t.Fatalf("unexpected permission: %+v", perm)
	}
}

func TestDeleteRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.registry.DeleteRole(ctx, RoleLearner); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("expected ErrSystemRole, got %v", err)
	}
	if _, err := f.registry.CreateRole(ctx, RoleInput{Code: "temp"}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := f.registry.DeleteRole(ctx, "temp"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := f.registry.DeleteRole(ctx, "temp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRolesReplacesAndMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "ada@example.com")

	m, err := f.registry.AssignRolesToUserTenant(ctx, user.ID, f.tenant.ID, []string{RoleTrainer})
	if err != nil {
		t.Fatalf("AssignRolesToUserTenant: %v", err)
	}
	if !slices.Equal(m.Roles, []string{RoleTrainer}) {
		t.Fatalf("roles not replaced: %v", m.Roles)
	}
	m, err = f.registry.MergeRolesToUserTenant(ctx, user.ID, f.tenant.ID, []string{RoleLearner, RoleTrainer})
	if err != nil {
		t.Fatalf("MergeRolesToUserTenant: %v", err)
	}
	if !slices.Equal(m.Roles, []string{RoleTrainer, RoleLearner}) {
		t.Fatalf("roles not merged: %v", m.Roles)
	}

	if _, err := f.registry.AssignRolesToUserTenant(ctx, user.ID, f.tenant.ID, []string{"ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown role: got %v", err)
	}

	other, err := f.registry.CreateTenant(ctx, "Second Tenant")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	_, err = f.registry.AssignRolesToUserTenant(ctx, user.ID, other.ID, []string{RoleLearner})
	if !errors.Is(err, ErrMembershipExists) {
		t.Fatalf("expected ErrMembershipExists, got %v", err)
	}
	if strings.Contains(err.Error(), f.tenant.ID) {
		t.Fatalf("error names the existing tenant: %v", err)
	}
	if _, err := f.registry.AssignRolesToUserTenant(ctx, user.ID, f.tenant.ID, []string{RolePlatformAdmin}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("platform_admin membership: got %v", err)
	}
}

func TestConcurrentMergesKeepEveryRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "ada@example.com")

	codes := []string{RoleTrainer, RoleTenantAdmin}
	for i := range 6 {
		code := fmt.Sprintf("cohort_%d", i)
		if _, err := f.registry.CreateRole(ctx, RoleInput{Code: code, Name: code}); err != nil {
			t.Fatalf("CreateRole: %v", err)
		}
		codes = append(codes, code)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(codes))
	for _, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.registry.MergeRolesToUserTenant(ctx, user.ID, f.tenant.ID, []string{code}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("MergeRolesToUserTenant: %v", err)
	}

	m, err := f.store.Membership(ctx, user.ID, f.tenant.ID)
	if err != nil {
		t.Fatalf("Membership: %v", err)
	}
	for _, code := range append(codes, RoleLearner) {
		if !slices.Contains(m.Roles, code) {
			t.Fatalf("merge lost %s: %v", code, m.Roles)
		}
	}
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before, _ := f.registry.ListPermissions(ctx, "")
	if err := f.registry.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	after, _ := f.registry.ListPermissions(ctx, "")
	if len(before) != len(after) || len(after) != len(BuiltinPermissions) {
		t.Fatalf("catalog changed: %d -> %d", len(before), len(after))
	}
	cats, err := f.registry.Categories(ctx)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != len(BuiltinCategories) {
		t.Fatalf("categories = %v", cats)
	}
}
