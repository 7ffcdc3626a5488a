package pg

import (
	"context"

	"learnhub.io/internal/auth"
)

const userColumns = `id, email, password_hash, name, status, platform_roles, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Status, codes(&u.PlatformRoles), &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			insert into users (id, email, password_hash, name, status, platform_roles, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, u.ID, u.Email, u.PasswordHash, u.Name, u.Status, orEmpty(auth.NormalizeCodes(u.PlatformRoles)), u.CreatedAt, u.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	var u auth.User
	err := s.retry(ctx, func() error {
		var err error
		u, err = scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
		return err
	})
	return u, err
}

// UserByEmail matches the stored email exactly.
func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	var u auth.User
	err := s.retry(ctx, func() error {
		var err error
		u, err = scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
		return err
	})
	return u, err
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, userID, passwordHash)
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}

func (s *Store) UpdateStatus(ctx context.Context, userID, status string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `update users set status = $2, updated_at = now() where id = $1`, userID, status)
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}

// DeleteUser removes a user; memberships and refresh tokens cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}

func (s *Store) SetPlatformRoles(ctx context.Context, userID string, roles []string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `update users set platform_roles = $2, updated_at = now() where id = $1`, userID, orEmpty(auth.NormalizeCodes(roles)))
		if err != nil {
			return mapError(err)
		}
		return mustAffect(res)
	})
}
