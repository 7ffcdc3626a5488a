package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"

	"learnhub.io/internal/auth"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrClassConnection      = "08"

	defaultAttempts = 3
	defaultBackoff  = 50 * time.Millisecond
)

// Store implements auth.Store on PostgreSQL through database/sql.
type Store struct {
	db       *sql.DB
	attempts int
	backoff  time.Duration
}

var _ auth.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithRetry sets how many times transient failures are attempted and the
// initial backoff, which doubles after each attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// Open connects to dsn with the pgx driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, attempts: defaultAttempts, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.retry(ctx, func() error { return s.db.PingContext(ctx) })
}

// retry runs op until it succeeds, fails permanently or runs out of attempts.
func (s *Store) retry(ctx context.Context, op func() error) error {
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || attempt >= s.attempts || !transient(err) {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return true
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return false
	}
	return pgErr.Code == pgErrSerializationFailure ||
		pgErr.Code == pgErrDeadlockDetected ||
		strings.HasPrefix(pgErr.Code, pgErrClassConnection)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError converts driver errors into auth sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// codes scans a text[] column into a string slice.
func codes(dst *[]string) sql.Scanner {
	return pgtype.NewMap().SQLScanner(dst)
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
