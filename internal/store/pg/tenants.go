package pg

import (
	"context"

	"learnhub.io/internal/auth"
)

func (s *Store) CreateTenant(ctx context.Context, t *auth.Tenant) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			insert into tenants (id, name, created_at, updated_at) values ($1, $2, $3, $4)
		`, t.ID, t.Name, t.CreatedAt, t.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) TenantByID(ctx context.Context, id string) (auth.Tenant, error) {
	var t auth.Tenant
	err := s.retry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			select id, name, created_at, updated_at from tenants where id = $1
		`, id).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
		return mapError(err)
	})
	return t, err
}

const membershipColumns = `user_id, tenant_id, roles, created_at, updated_at`

func scanMembership(row rowScanner) (auth.UserTenant, error) {
	var m auth.UserTenant
	if err := row.Scan(&m.UserID, &m.TenantID, codes(&m.Roles), &m.CreatedAt, &m.UpdatedAt); err != nil {
		return auth.UserTenant{}, mapError(err)
	}
	return m, nil
}

func (s *Store) Membership(ctx context.Context, userID, tenantID string) (auth.UserTenant, error) {
	var m auth.UserTenant
	err := s.retry(ctx, func() error {
		var err error
		m, err = scanMembership(s.db.QueryRowContext(ctx, `
			select `+membershipColumns+` from user_tenants where user_id = $1 and tenant_id = $2
		`, userID, tenantID))
		return err
	})
	return m, err
}

func (s *Store) MembershipsForUser(ctx context.Context, userID string) ([]auth.UserTenant, error) {
	return s.listMemberships(ctx, `
		select `+membershipColumns+` from user_tenants where user_id = $1 order by created_at
	`, userID)
}

func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]auth.UserTenant, error) {
	return s.listMemberships(ctx, `
		select `+membershipColumns+` from user_tenants where tenant_id = $1 order by user_id
	`, tenantID)
}

func (s *Store) listMemberships(ctx context.Context, query string, arg string) ([]auth.UserTenant, error) {
	var out []auth.UserTenant
	err := s.retry(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, arg)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMembership(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// UpsertMembership inserts or replaces the role set. The unique index on
// user_tenants(user_id) turns a second tenant into auth.ErrConflict.
func (s *Store) UpsertMembership(ctx context.Context, m *auth.UserTenant) error {
	return s.retry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			insert into user_tenants (user_id, tenant_id, roles, created_at, updated_at)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id, tenant_id) do update
			set roles = excluded.roles, updated_at = excluded.updated_at
			returning created_at
		`, m.UserID, m.TenantID, orEmpty(m.Roles), m.CreatedAt, m.UpdatedAt).Scan(&m.CreatedAt)
		return mapError(err)
	})
}

// MergeMembershipRoles adds m.Roles to the membership in one statement, so
// concurrent merges cannot drop each other's roles. m.Roles is replaced by the
// stored union in first-seen order.
func (s *Store) MergeMembershipRoles(ctx context.Context, m *auth.UserTenant) error {
	return s.retry(ctx, func() error {
		var roles []string
		err := s.db.QueryRowContext(ctx, `
			insert into user_tenants (user_id, tenant_id, roles, created_at, updated_at)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id, tenant_id) do update
			set roles = array(
				select u.code
				from unnest(user_tenants.roles || excluded.roles) with ordinality as u(code, n)
				group by u.code
				order by min(u.n)
			),
			updated_at = excluded.updated_at
			returning roles, created_at
		`, m.UserID, m.TenantID, orEmpty(m.Roles), m.CreatedAt, m.UpdatedAt).Scan(codes(&roles), &m.CreatedAt)
		if err != nil {
			return mapError(err)
		}
		m.Roles = orEmpty(roles)
		return nil
	})
}
