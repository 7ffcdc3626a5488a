// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// TokenConfig holds JWT settings.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

type Config struct {
	Environment         string
	HTTPAddr            string
	GRPCAddr            string
	LogLevel            string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	Token               TokenConfig
	BcryptCost          int
	AuthzCacheTTL       time.Duration
	RateLimit           RateLimitConfig
	RefreshCookieSecure bool
	AllowedOrigins      []string
}

// Development reports whether the process runs in development mode.
func (c *Config) Development() bool { return c.Environment == "development" }

// Load reads .env files (default ".env", missing files are ignored) into the
// environment without overriding variables that are already set, then builds
// the configuration from the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv. It fails fast with every
// missing required variable listed at once.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	env := get("LEARNHUB_ENV", "development")
	if env != "development" && env != "staging" && env != "production" {
		return nil, fmt.Errorf("invalid LEARNHUB_ENV value %q: must be development, staging, or production", env)
	}

	var missing []string
	access := get("JWT_ACCESS_SECRET", "")
	if access == "" {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	refresh := get("JWT_REFRESH_SECRET", "")
	if refresh == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	dsn := get("LEARNHUB_PG_DSN", "")
	if dsn == "" && env != "development" {
		missing = append(missing, "LEARNHUB_PG_DSN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if access == refresh {
		return nil, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	var errs []error
	intVar := func(key string, def int) int {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			errs = append(errs, fmt.Errorf("invalid %s: %q", key, raw))
			return def
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: %q", key, raw))
			return def
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q", key, raw))
			return def
		}
		return v
	}

	cfg := &Config{
		Environment:   env,
		HTTPAddr:      get("LEARNHUB_HTTP_ADDR", ":8080"),
		GRPCAddr:      grpcAddr(get("LEARNHUB_GRPC_ADDR", ":9090")),
		LogLevel:      get("LEARNHUB_LOG_LEVEL", "info"),
		DatabaseURL:   dsn,
		RedisAddr:     get("LEARNHUB_REDIS_ADDR", ""),
		RedisPassword: getenv("LEARNHUB_REDIS_PASSWORD"),
		Token: TokenConfig{
			AccessSecret:  access,
			RefreshSecret: refresh,
			Issuer:        get("JWT_ISSUER", "learnhub"),
			AccessTTL:     time.Duration(intVar("JWT_ACCESS_TTL_SECONDS", 900)) * time.Second,
			RefreshTTL:    time.Duration(intVar("JWT_REFRESH_TTL_DAYS", 30)) * 24 * time.Hour,
		},
		BcryptCost:    intVar("BCRYPT_COST", bcrypt.DefaultCost),
		AuthzCacheTTL: time.Duration(intVar("AUTHZ_CACHE_TTL_SECONDS", 30)) * time.Second,
		RateLimit: RateLimitConfig{
			PerSecond: floatVar("RATE_LIMIT_PER_SECOND", 10),
			Burst:     intVar("RATE_LIMIT_BURST", 20),
		},
		RefreshCookieSecure: boolVar("REFRESH_COOKIE_SECURE", env != "development"),
		AllowedOrigins:      splitList(get("LEARNHUB_ALLOWED_ORIGINS", "")),
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("invalid BCRYPT_COST: %d not in %d..%d", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if cfg.Token.AccessTTL <= 0 || cfg.Token.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// grpcAddr maps "off" to an empty address, which disables the gRPC listener.
func grpcAddr(v string) string {
	if strings.EqualFold(v, "off") {
		return ""
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
