package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"learnhub.io/internal/auth"
)

// arrayConverter lets []string arguments reach the mock the way the pgx
// driver accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

// codesArg matches a []string argument.
type codesArg []string

func (c codesArg) Match(v driver.Value) bool {
	got, ok := v.([]string)
	if !ok || len(got) != len(c) {
		return false
	}
	for i := range c {
		if got[i] != c[i] {
			return false
		}
	}
	return true
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db, WithRetry(3, 0)), mock
}

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreateUser(context.Background(), &auth.User{ID: "u1", Email: "ada@example.com", Status: auth.UserStatusActive})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserByEmailScansPlatformRoles(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "name", "status", "platform_roles", "created_at", "updated_at"}).
		AddRow("u1", "ada@example.com", "hash", "Ada", "active", "{platform_admin}", fixedTime, fixedTime)
	mock.ExpectQuery("select .* from users where email = \\$1").WithArgs("ada@example.com").WillReturnRows(rows)

	u, err := store.UserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if u.ID != "u1" || len(u.PlatformRoles) != 1 || u.PlatformRoles[0] != auth.RolePlatformAdmin {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestUserByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from users where id").WillReturnError(sql.ErrNoRows)
	if _, err := store.UserByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryOnSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from tenants where id").WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	mock.ExpectQuery("from tenants where id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).AddRow("t1", "Acme", fixedTime, fixedTime))

	tenant, err := store.TenantByID(context.Background(), "t1")
	if err != nil {
		t.Fatalf("TenantByID: %v", err)
	}
	if tenant.Name != "Acme" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
}

func TestRetryGivesUp(t *testing.T) {
	store, mock := newMockStore(t)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("update users set status").WillReturnError(&pgconn.PgError{Code: pgErrDeadlockDetected})
	}
	err := store.UpdateStatus(context.Background(), "u1", auth.UserStatusSuspended)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrDeadlockDetected {
		t.Fatalf("expected deadlock error after retries, got %v", err)
	}
}

func TestRotateRefreshToken(t *testing.T) {
	next := &auth.RefreshToken{ID: "r2", UserID: "u1", TokenHash: "h2", ExpiresAt: fixedTime.Add(time.Hour), CreatedAt: fixedTime}

	t.Run("commit", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("insert into refresh_tokens").
			WithArgs("r2", "u1", "h2", next.ExpiresAt, next.CreatedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("update refresh_tokens").
			WithArgs("r1", "r2", fixedTime).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := store.RotateRefreshToken(context.Background(), "r1", next, fixedTime); err != nil {
			t.Fatalf("RotateRefreshToken: %v", err)
		}
	})

	t.Run("lost race", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("insert into refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("update refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.RotateRefreshToken(context.Background(), "r1", next, fixedTime)
		if !errors.Is(err, auth.ErrInvalidRefreshToken) {
			t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
		}
	})
}

func TestRevokeRefreshTokenReportsChange(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update refresh_tokens set revoked = true where id").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked = true where id").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.RevokeRefreshToken(context.Background(), "r1")
	if err != nil || !first {
		t.Fatalf("first revoke = %v, %v", first, err)
	}
	second, err := store.RevokeRefreshToken(context.Background(), "r1")
	if err != nil || second {
		t.Fatalf("second revoke = %v, %v", second, err)
	}
}

func TestRolesGrantPermission(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select exists").
		WithArgs("p1", codesArg{"trainer", "learner"}).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.RolesGrantPermission(context.Background(), "p1", []string{"trainer", "learner"})
	if err != nil || !ok {
		t.Fatalf("RolesGrantPermission = %v, %v", ok, err)
	}
	ok, err = store.RolesGrantPermission(context.Background(), "p1", nil)
	if err != nil || ok {
		t.Fatalf("empty role set = %v, %v", ok, err)
	}
}

func TestGrantPermissionReturnsLink(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into role_permissions").
		WithArgs("r1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id", "permission_id", "created_at"}).AddRow("r1", "p1", fixedTime))

	rp, err := store.GrantPermission(context.Background(), "r1", "p1")
	if err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if rp.RoleID != "r1" || rp.PermissionID != "p1" || !rp.CreatedAt.Equal(fixedTime) {
		t.Fatalf("unexpected link: %+v", rp)
	}
}

func TestUpsertMembershipSecondTenant(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into user_tenants").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.UpsertMembership(context.Background(), &auth.UserTenant{UserID: "u1", TenantID: "t2", Roles: []string{"learner"}})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMembershipScansRoles(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from user_tenants where user_id = \\$1 and tenant_id").
		WithArgs("u1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tenant_id", "roles", "created_at", "updated_at"}).
			AddRow("u1", "t1", "{trainer,learner}", fixedTime, fixedTime))

	m, err := store.Membership(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("Membership: %v", err)
	}
	if len(m.Roles) != 2 || m.Roles[0] != "trainer" || m.Roles[1] != "learner" {
		t.Fatalf("unexpected roles: %v", m.Roles)
	}
}

func TestOwnershipLookups(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from lessons l").WithArgs("lesson-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("t1"))
	mock.ExpectQuery("from modules m").WithArgs("module-x").WillReturnError(sql.ErrNoRows)

	tenant, err := store.TenantIDForLesson(context.Background(), "lesson-1")
	if err != nil || tenant != "t1" {
		t.Fatalf("TenantIDForLesson = %q, %v", tenant, err)
	}
	if _, err := store.TenantIDForModule(context.Background(), "module-x"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRoleMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from roles").WithArgs("r9").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteRole(context.Background(), "r9"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeMembershipRolesUnionsInStatement(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into user_tenants .* unnest\\(user_tenants.roles \\|\\| excluded.roles\\)").
		WithArgs("u1", "t1", codesArg{"trainer"}, fixedTime, fixedTime).
		WillReturnRows(sqlmock.NewRows([]string{"roles", "created_at"}).AddRow("{learner,trainer}", fixedTime))

	m := &auth.UserTenant{UserID: "u1", TenantID: "t1", Roles: []string{"trainer"}, CreatedAt: fixedTime, UpdatedAt: fixedTime}
	if err := store.MergeMembershipRoles(context.Background(), m); err != nil {
		t.Fatalf("MergeMembershipRoles: %v", err)
	}
	if len(m.Roles) != 2 || m.Roles[0] != "learner" || m.Roles[1] != "trainer" {
		t.Fatalf("stored union not returned: %v", m.Roles)
	}
}

func TestDeleteUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from users where id").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from users where id").WithArgs("u2").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteUser(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := store.DeleteUser(context.Background(), "u2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
