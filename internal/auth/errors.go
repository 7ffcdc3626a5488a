package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidToken            = errors.New("invalid token")
	ErrInvalidRefreshToken     = errors.New("invalid refresh token")
	ErrDuplicateRoleCode       = errors.New("role code already exists")
	ErrDuplicatePermissionCode = errors.New("permission code already exists")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrTenantContextMissing    = errors.New("tenant context missing")
	ErrUnknownCategory         = errors.New("unknown permission category")
	ErrMembershipExists        = errors.New("user already belongs to another tenant")
	ErrSystemRole              = errors.New("system roles cannot be deleted")
)

// PermissionDeniedError names the first requirement that failed. It never
// carries the grants the principal actually holds.
type PermissionDeniedError struct {
	Permission string
	Roles      []string
}

func (e *PermissionDeniedError) Error() string {
	switch {
	case e.Permission != "":
		return fmt.Sprintf("permission denied: missing %s", e.Permission)
	case len(e.Roles) > 0:
		return fmt.Sprintf("permission denied: requires one of %s", strings.Join(e.Roles, ", "))
	default:
		return ErrPermissionDenied.Error()
	}
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// UnknownCategoryError lists the categories that do exist.
type UnknownCategoryError struct {
	Category string
	Valid    []string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown permission category %q; valid categories: %s", e.Category, strings.Join(e.Valid, ", "))
}

func (e *UnknownCategoryError) Is(target error) bool { return target == ErrUnknownCategory }

func denied(permission string) error {
	return &PermissionDeniedError{Permission: permission}
}
