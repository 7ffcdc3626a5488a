package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	clock := &testClock{t: testNow}
	codec := newTestCodec(t, clock)

	token, exp, err := codec.SignAccessToken(Principal{
		UserID:   "user-1",
		Email:    "ada@example.com",
		TenantID: "tenant-1",
		Roles:    []string{"Trainer", "learner", "trainer"},
	})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	if want := testNow.Add(DefaultAccessTTL); !exp.Equal(want) {
		t.Fatalf("expires at %v, want %v", exp, want)
	}

	claims, err := codec.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	p := claims.Principal()
	if p.UserID != "user-1" || p.Email != "ada@example.com" || p.TenantID != "tenant-1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if strings.Join(p.Roles, ",") != "trainer,learner" {
		t.Fatalf("roles not normalized: %v", p.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestAccessTokenEncodesNullTenant(t *testing.T) {
	codec := newTestCodec(t, &testClock{t: testNow})
	token, _, err := codec.SignAccessToken(Principal{UserID: "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("malformed token %q", token)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	v, ok := raw["tenantId"]
	if !ok || v != nil {
		t.Fatalf("expected tenantId null, got %v (present=%v)", v, ok)
	}
	if raw["typ"] != "access" || raw["id"] != "user-1" || raw["sub"] != "user-1" {
		t.Fatalf("unexpected claims: %v", raw)
	}
}

func TestVerifyRejects(t *testing.T) {
	clock := &testClock{t: testNow}
	codec := newTestCodec(t, clock)
	access, _, err := codec.SignAccessToken(Principal{UserID: "user-1"})
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	refresh, _, err := codec.SignRefreshToken("user-1")
	if err != nil {
		t.Fatalf("SignRefreshToken: %v", err)
	}

	other, err := NewTokenCodec(TokenConfig{AccessSecret: "another-access", RefreshSecret: "another-refresh", Issuer: "learnhub-test", Clock: clock.Now})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	foreign, _, _ := other.SignAccessToken(Principal{UserID: "user-1"})

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID:    "user-1",
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "learnhub-test",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	accessParts := strings.Split(access, ".")
	foreignParts := strings.Split(foreign, ".")
	tampered := accessParts[0] + "." + foreignParts[1] + "." + accessParts[2]

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"refresh":      refresh,
		"wrong secret": foreign,
		"alg none":     unsigned,
		"tampered":     tampered,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := codec.VerifyRefreshToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}

	clock.Advance(DefaultAccessTTL + time.Second)
	if _, err := codec.VerifyAccessToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if _, err := codec.VerifyRefreshToken(refresh); err != nil {
		t.Fatalf("refresh token should outlive access token: %v", err)
	}
}

func TestNewTokenCodecRequiresDistinctSecrets(t *testing.T) {
	if _, err := NewTokenCodec(TokenConfig{AccessSecret: "same", RefreshSecret: "same"}); err == nil {
		t.Fatalf("expected error for identical secrets")
	}
	if _, err := NewTokenCodec(TokenConfig{AccessSecret: "only-access"}); err == nil {
		t.Fatalf("expected error for missing refresh secret")
	}
}

func TestRefreshTokensAreUniqueWithinSecond(t *testing.T) {
	codec := newTestCodec(t, &testClock{t: testNow})
	a, _, err := codec.SignRefreshToken("user-1")
	if err != nil {
		t.Fatalf("SignRefreshToken: %v", err)
	}
	b, _, err := codec.SignRefreshToken("user-1")
	if err != nil {
		t.Fatalf("SignRefreshToken: %v", err)
	}
	if a == b || HashRefreshToken(a) == HashRefreshToken(b) {
		t.Fatalf("expected distinct refresh tokens")
	}
}
