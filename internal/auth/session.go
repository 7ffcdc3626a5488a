package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"learnhub.io/internal/ids"
)

// Sessions implements the refresh token lifecycle: issue, rotate-on-use and
// revoke. Raw tokens only ever leave through return values.
type Sessions struct {
	store RefreshTokenStore
	codec *TokenCodec
}

// NewSessions wires the refresh token store to the codec.
func NewSessions(store RefreshTokenStore, codec *TokenCodec) (*Sessions, error) {
	if store == nil || codec == nil {
		return nil, errors.New("auth: refresh token store and codec are required")
	}
	return &Sessions{store: store, codec: codec}, nil
}

// CreateRefreshToken signs a refresh token for userID and persists its hash.
func (s *Sessions) CreateRefreshToken(ctx context.Context, userID string, client ClientInfo) (string, RefreshToken, error) {
	raw, rec, err := s.mint(userID, client)
	if err != nil {
		return "", RefreshToken{}, err
	}
	if err := s.store.CreateRefreshToken(ctx, &rec); err != nil {
		return "", RefreshToken{}, err
	}
	return raw, rec, nil
}

// RotateRefreshToken exchanges a valid refresh token for a new one. The old
// record is revoked atomically with the creation of the new one, so a token
// can be used at most once.
func (s *Sessions) RotateRefreshToken(ctx context.Context, raw string, client ClientInfo) (string, RefreshToken, error) {
	claims, err := s.codec.VerifyRefreshToken(raw)
	if err != nil {
		return "", RefreshToken{}, ErrInvalidRefreshToken
	}
	matches, err := s.matching(ctx, claims.Subject, raw)
	if err != nil {
		return "", RefreshToken{}, err
	}
	if len(matches) == 0 {
		return "", RefreshToken{}, ErrInvalidRefreshToken
	}
	newRaw, next, err := s.mint(claims.Subject, client)
	if err != nil {
		return "", RefreshToken{}, err
	}
	if err := s.store.RotateRefreshToken(ctx, matches[0].ID, &next, s.codec.now()); err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrNotFound) {
			return "", RefreshToken{}, ErrInvalidRefreshToken
		}
		return "", RefreshToken{}, err
	}
	return newRaw, next, nil
}

// RevokeRefreshToken revokes every live record matching raw. It reports false,
// without error, when nothing was revoked, including for forged tokens.
func (s *Sessions) RevokeRefreshToken(ctx context.Context, raw string) (bool, error) {
	claims, err := s.codec.VerifyRefreshToken(raw)
	if err != nil {
		return false, nil
	}
	matches, err := s.matching(ctx, claims.Subject, raw)
	if err != nil {
		return false, err
	}
	revoked := false
	for _, m := range matches {
		ok, err := s.store.RevokeRefreshToken(ctx, m.ID)
		if err != nil {
			return revoked, err
		}
		revoked = revoked || ok
	}
	return revoked, nil
}

// RevokeAllForUser ends every session of userID.
func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeUserRefreshTokens(ctx, userID)
}

// PurgeExpired deletes records that expired before the given instant.
func (s *Sessions) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.store.DeleteExpiredRefreshTokens(ctx, before)
}

func (s *Sessions) matching(ctx context.Context, userID, raw string) ([]RefreshToken, error) {
	active, err := s.store.ActiveRefreshTokens(ctx, userID, s.codec.now())
	if err != nil {
		return nil, err
	}
	presented := HashRefreshToken(raw)
	var out []RefreshToken
	for _, rec := range active {
		if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(presented)) == 1 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Sessions) mint(userID string, client ClientInfo) (string, RefreshToken, error) {
	raw, exp, err := s.codec.SignRefreshToken(userID)
	if err != nil {
		return "", RefreshToken{}, err
	}
	now := s.codec.now().UTC()
	return raw, RefreshToken{
		ID:        ids.NewAt(now),
		UserID:    userID,
		TokenHash: HashRefreshToken(raw),
		ExpiresAt: exp,
		CreatedAt: now,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	}, nil
}

// HashRefreshToken returns the hex SHA-256 of a raw refresh token.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
