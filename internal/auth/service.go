package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"learnhub.io/internal/ids"
)

// DefaultTenantRole is granted when a user registers into a tenant without explicit roles.
const DefaultTenantRole = "learner"

// Service orchestrates login, registration, token issuance, rotation and revocation.
type Service struct {
	store    Store
	codec    *TokenCodec
	sessions *Sessions
	hasher   PasswordHasher
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithPasswordHasher overrides the bcrypt hasher (and so the cost factor).
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) error {
		if o != nil {
			s.observer = o
		}
		return nil
	}
}

// WithLogger sets the logger used for session events.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil {
		return nil, errors.New("auth: store and token codec are required")
	}
	sessions, err := NewSessions(store, codec)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		store:    store,
		codec:    codec,
		sessions: sessions,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Sessions exposes the refresh session manager.
func (s *Service) Sessions() *Sessions { return s.sessions }

// Codec exposes the token codec.
func (s *Service) Codec() *TokenCodec { return s.codec }

// Session is the outcome of a successful login or refresh.
type Session struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Principal        Principal `json:"-"`
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	TenantID string
	Roles    []string
}

// Register creates an active user and, when TenantID is set, its single tenant membership.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < MinPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	tenantID := strings.TrimSpace(in.TenantID)
	var roles []string
	if tenantID != "" {
		if _, err := s.store.TenantByID(ctx, tenantID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return User{}, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
			}
			return User{}, err
		}
		var err error
		if roles, err = membershipRoles(ctx, s.store, in.Roles); err != nil {
			return User{}, err
		}
		if len(roles) == 0 {
			roles = []string{DefaultTenantRole}
		}
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:           ids.NewAt(now),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return User{}, err
	}
	if tenantID != "" {
		m := UserTenant{UserID: user.ID, TenantID: tenantID, Roles: roles, CreatedAt: now, UpdatedAt: now}
		if err := s.store.UpsertMembership(ctx, &m); err != nil {
			if derr := s.store.DeleteUser(ctx, user.ID); derr != nil {
				s.logger.ErrorContext(ctx, "register_rollback_failed", "user_id", user.ID, "error", derr.Error())
			}
			return User{}, err
		}
	}
	s.logger.InfoContext(ctx, "user_registered", "user_id", user.ID, "tenant_id", tenantID)
	return user, nil
}

// Login verifies credentials and issues an access/refresh pair. Unknown email,
// wrong password and inactive accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.observer.Login("invalid")
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.observer.Login("error")
			return Session{}, err
		}
		_ = VerifyPassword(dummyHash, password)
		s.observer.Login("invalid")
		return Session{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil || !user.Active() {
		s.observer.Login("invalid")
		return Session{}, ErrInvalidCredentials
	}
	principal, err := s.principalFor(ctx, user)
	if err != nil {
		s.observer.Login("error")
		return Session{}, err
	}
	access, accessExp, err := s.codec.SignAccessToken(principal)
	if err != nil {
		s.observer.Login("error")
		return Session{}, err
	}
	refresh, rec, err := s.sessions.CreateRefreshToken(ctx, user.ID, client)
	if err != nil {
		s.observer.Login("error")
		return Session{}, err
	}
	s.observer.Login("success")
	s.logger.InfoContext(ctx, "session_created", "user_id", user.ID, "tenant_id", principal.TenantID, "session_id", rec.ID)
	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rec.ExpiresAt,
		Principal:        principal,
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token built from
// current memberships.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (Session, error) {
	raw, rec, err := s.sessions.RotateRefreshToken(ctx, refreshToken, client)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			s.observer.Refresh("invalid")
		} else {
			s.observer.Refresh("error")
		}
		return Session{}, err
	}
	user, err := s.store.UserByID(ctx, rec.UserID)
	if err != nil || !user.Active() {
		_, _ = s.store.RevokeRefreshToken(ctx, rec.ID)
		s.observer.Refresh("invalid")
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, ErrInvalidRefreshToken
	}
	principal, err := s.principalFor(ctx, user)
	if err != nil {
		s.observer.Refresh("error")
		return Session{}, err
	}
	access, accessExp, err := s.codec.SignAccessToken(principal)
	if err != nil {
		s.observer.Refresh("error")
		return Session{}, err
	}
	s.observer.Refresh("success")
	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
		Principal:        principal,
	}, nil
}

// Logout revokes the presented refresh token. It reports whether anything was revoked.
func (s *Service) Logout(ctx context.Context, refreshToken string) (bool, error) {
	return s.sessions.RevokeRefreshToken(ctx, refreshToken)
}

// AuthenticateToken verifies an access token and returns its principal.
func (s *Service) AuthenticateToken(token string) (Principal, error) {
	claims, err := s.codec.VerifyAccessToken(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return claims.Principal(), nil
}

// ChangePassword replaces the password after verifying the current one and
// ends every existing session.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password_changed", "user_id", userID, "sessions_revoked", n)
	return nil
}

// SetUserStatus activates or suspends a user. Suspension ends every session.
func (s *Service) SetUserStatus(ctx context.Context, userID, status string) (User, error) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != UserStatusActive && status != UserStatusSuspended {
		return User{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	if err := s.store.UpdateStatus(ctx, userID, status); err != nil {
		return User{}, err
	}
	if status == UserStatusSuspended {
		if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			return User{}, err
		}
	}
	return s.store.UserByID(ctx, userID)
}

func (s *Service) principalFor(ctx context.Context, user User) (Principal, error) {
	memberships, err := s.store.MembershipsForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	if len(memberships) == 0 {
		return NewPrincipal(user, nil), nil
	}
	return NewPrincipal(user, &memberships[0]), nil
}
