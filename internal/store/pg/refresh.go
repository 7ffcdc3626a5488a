package pg

import (
	"context"
	"time"

	"learnhub.io/internal/auth"
)

const refreshColumns = `id, user_id, token_hash, expires_at, revoked, coalesce(replaced_by_id, ''), created_at, coalesce(ip, ''), coalesce(user_agent, '')`

func (s *Store) CreateRefreshToken(ctx context.Context, t *auth.RefreshToken) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			insert into refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at, ip, user_agent)
			values ($1, $2, $3, $4, false, $5, $6, $7)
		`, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt, nullIfEmpty(t.IP), nullIfEmpty(t.UserAgent))
		return mapError(err)
	})
}

func (s *Store) ActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]auth.RefreshToken, error) {
	var out []auth.RefreshToken
	err := s.retry(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			select `+refreshColumns+`
			from refresh_tokens
			where user_id = $1 and revoked = false and expires_at > $2
			order by created_at
		`, userID, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t auth.RefreshToken
			if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.ReplacedByID, &t.CreatedAt, &t.IP, &t.UserAgent); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// RotateRefreshToken inserts next and revokes oldID in one transaction. The
// update only matches a live row, so of two concurrent rotations of the same
// token exactly one commits.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, next *auth.RefreshToken, now time.Time) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			insert into refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at, ip, user_agent)
			values ($1, $2, $3, $4, false, $5, $6, $7)
		`, next.ID, next.UserID, next.TokenHash, next.ExpiresAt, next.CreatedAt, nullIfEmpty(next.IP), nullIfEmpty(next.UserAgent)); err != nil {
			return mapError(err)
		}
		res, err := tx.ExecContext(ctx, `
			update refresh_tokens
			set revoked = true, replaced_by_id = $2
			where id = $1 and revoked = false and expires_at > $3
		`, oldID, next.ID, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return auth.ErrInvalidRefreshToken
		}
		return tx.Commit()
	})
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (bool, error) {
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked = true where id = $1 and revoked = false`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked = true where user_id = $1 and revoked = false`, userID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, before)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
