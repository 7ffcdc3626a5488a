package pg

import (
	"context"
	"database/sql"

	"learnhub.io/internal/auth"
)

const (
	roleColumns       = `id, code, name, description, category, is_system, created_at, updated_at`
	permissionColumns = `id, code, name, description, resource, action, category, is_system_defined, created_at`
)

func scanRole(row rowScanner) (auth.Role, error) {
	var r auth.Role
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Description, &r.Category, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return auth.Role{}, mapError(err)
	}
	return r, nil
}

func scanPermission(row rowScanner) (auth.Permission, error) {
	var p auth.Permission
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Category, &p.IsSystemDefined, &p.CreatedAt); err != nil {
		return auth.Permission{}, mapError(err)
	}
	return p, nil
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			insert into roles (id, code, name, description, category, is_system, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.Code, r.Name, r.Description, r.Category, r.IsSystem, r.CreatedAt, r.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) RoleByCode(ctx context.Context, code string) (auth.Role, error) {
	var r auth.Role
	err := s.retry(ctx, func() error {
		var err error
		r, err = scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where code = $1`, code))
		return err
	})
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	var out []auth.Role
	err := s.retry(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by code`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRole(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteRole removes the role; grants go with it through on delete cascade.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}

func (s *Store) CreatePermission(ctx context.Context, p *auth.Permission) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, code, name, description, resource, action, category, is_system_defined, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.ID, p.Code, p.Name, p.Description, p.Resource, p.Action, p.Category, p.IsSystemDefined, p.CreatedAt)
		return mapError(err)
	})
}

func (s *Store) PermissionByCode(ctx context.Context, code string) (auth.Permission, error) {
	var p auth.Permission
	err := s.retry(ctx, func() error {
		var err error
		p, err = scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where code = $1`, code))
		return err
	})
	return p, err
}

func (s *Store) PermissionByID(ctx context.Context, id string) (auth.Permission, error) {
	var p auth.Permission
	err := s.retry(ctx, func() error {
		var err error
		p, err = scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
		return err
	})
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	return s.listPermissions(ctx, `select `+permissionColumns+` from permissions order by code`)
}

func (s *Store) PermissionsByCategory(ctx context.Context, category string) ([]auth.Permission, error) {
	return s.listPermissions(ctx, `select `+permissionColumns+` from permissions where category = $1 order by code`, category)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.listPermissions(ctx, `
		select p.id, p.code, p.name, p.description, p.resource, p.action, p.category, p.is_system_defined, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.code
	`, roleID)
}

func (s *Store) listPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	var out []auth.Permission
	err := s.retry(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPermission(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `select distinct category from permissions where category <> '' order by category`)
}

// GrantPermission is idempotent: an existing pair is returned unchanged.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) (auth.RolePermission, error) {
	var rp auth.RolePermission
	err := s.retry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			with ins as (
				insert into role_permissions (role_id, permission_id, created_at)
				values ($1, $2, now())
				on conflict (role_id, permission_id) do nothing
				returning role_id, permission_id, created_at
			)
			select role_id, permission_id, created_at from ins
			union all
			select role_id, permission_id, created_at from role_permissions
			where role_id = $1 and permission_id = $2
			limit 1
		`, roleID, permissionID).Scan(&rp.RoleID, &rp.PermissionID, &rp.CreatedAt)
		return mapError(err)
	})
	return rp, err
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}

func (s *Store) RolesGrantPermission(ctx context.Context, permissionID string, roleCodes []string) (bool, error) {
	if len(roleCodes) == 0 {
		return false, nil
	}
	var ok bool
	err := s.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			select exists (
				select 1
				from role_permissions rp
				join roles r on r.id = rp.role_id
				where rp.permission_id = $1 and r.code = any($2)
			)
		`, permissionID, roleCodes).Scan(&ok)
	})
	return ok, err
}

func (s *Store) PermissionCodesForRoles(ctx context.Context, roleCodes []string) ([]string, error) {
	if len(roleCodes) == 0 {
		return nil, nil
	}
	return s.listStrings(ctx, `
		select distinct p.code
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join roles r on r.id = rp.role_id
		where r.code = any($1)
		order by p.code
	`, roleCodes)
}

func (s *Store) listStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	err := s.retry(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

// scalar reads a single string column, mapping no rows to auth.ErrNotFound.
func (s *Store) scalar(ctx context.Context, query string, args ...any) (string, error) {
	var v sql.NullString
	err := s.retry(ctx, func() error {
		return mapError(s.db.QueryRowContext(ctx, query, args...).Scan(&v))
	})
	if err != nil {
		return "", err
	}
	if !v.Valid {
		return "", auth.ErrNotFound
	}
	return v.String, nil
}
