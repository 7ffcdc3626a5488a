package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"learnhub.io/internal/auth"
	"learnhub.io/internal/config"
	"learnhub.io/internal/grpcapi"
	"learnhub.io/internal/store/pg"
)

type engine struct {
	store    *pg.Store
	svc      *auth.Service
	registry *auth.Registry
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var err error
	switch cmd {
	case "check":
		err = runCheck(ctx, args)
	case "seed", "create-tenant", "create-user", "grant", "gc":
		err = withEngine(func(e *engine) error {
			switch cmd {
			case "seed":
				return e.seed(ctx)
			case "create-tenant":
				return e.createTenant(ctx, args)
			case "create-user":
				return e.createUser(ctx, args)
			case "grant":
				return e.grant(ctx, args)
			default:
				return e.gc(ctx, args)
			}
		})
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func withEngine(fn func(*engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("LEARNHUB_PG_DSN is required")
	}
	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return err
	}
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, codec, auth.WithPasswordHasher(hasher))
	if err != nil {
		return err
	}
	registry, err := auth.NewRegistry(store)
	if err != nil {
		return err
	}
	return fn(&engine{store: store, svc: svc, registry: registry})
}

func (e *engine) seed(ctx context.Context) error {
	if err := e.registry.EnsureBuiltins(ctx); err != nil {
		return err
	}
	fmt.Println("builtin roles and permissions ensured")
	return nil
}

func (e *engine) createTenant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ExitOnError)
	name := fs.String("name", "", "Tenant name")
	_ = fs.Parse(args)
	t, err := e.registry.CreateTenant(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", t.ID, t.Name)
	return nil
}

func (e *engine) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	var (
		email    = fs.String("email", "", "Login email")
		password = fs.String("password", os.Getenv("LEARNHUB_NEW_USER_PASSWORD"), "Initial password")
		name     = fs.String("name", "", "Display name")
		tenant   = fs.String("tenant", "", "Tenant id for the initial membership")
		roles    = fs.String("roles", "", "Comma-separated membership roles")
	)
	_ = fs.Parse(args)
	u, err := e.svc.Register(ctx, auth.RegisterInput{
		Email:    *email,
		Password: *password,
		Name:     *name,
		TenantID: *tenant,
		Roles:    splitCodes(*roles),
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", u.ID, u.Email)
	return nil
}

// grant merges membership roles, or replaces platform roles with -platform.
func (e *engine) grant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	var (
		email    = fs.String("email", "", "User email")
		tenant   = fs.String("tenant", "", "Tenant id")
		roles    = fs.String("roles", "", "Comma-separated role codes")
		platform = fs.Bool("platform", false, "Set platform roles instead of a membership")
	)
	_ = fs.Parse(args)
	u, err := e.store.UserByEmail(ctx, strings.TrimSpace(*email))
	if err != nil {
		return fmt.Errorf("user %s: %w", *email, err)
	}
	codes := splitCodes(*roles)
	if *platform {
		if err := e.store.SetPlatformRoles(ctx, u.ID, auth.NormalizeCodes(codes)); err != nil {
			return err
		}
		fmt.Printf("%s\tplatform\t%s\n", u.ID, strings.Join(codes, ","))
		return nil
	}
	m, err := e.registry.MergeRolesToUserTenant(ctx, u.ID, *tenant, codes)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", m.UserID, m.TenantID, strings.Join(m.Roles, ","))
	return nil
}

func (e *engine) gc(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	grace := fs.Duration("grace", 0, "Keep tokens that expired less than this long ago")
	_ = fs.Parse(args)
	n, err := e.svc.Sessions().PurgeExpired(ctx, time.Now().Add(-*grace))
	if err != nil {
		return err
	}
	fmt.Printf("purged %d refresh tokens\n", n)
	return nil
}

func runCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var (
		addr   = fs.String("addr", "localhost:9090", "Authz gRPC address")
		token  = fs.String("token", os.Getenv("LEARNHUB_TOKEN"), "Access token")
		tenant = fs.String("tenant", "", "Tenant id hint")
		course = fs.String("course", "", "Course id hint")
		roles  = fs.String("roles", "", "Comma-separated roles, one of which is required")
	)
	_ = fs.Parse(args)
	client, err := grpcapi.Dial(*addr)
	if err != nil {
		return err
	}
	defer client.Close()
	d, err := client.Check(ctx, *token, auth.TenantHints{TenantID: *tenant, CourseID: *course}, fs.Args(), splitCodes(*roles))
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("denied in tenant %q: %s", d.TenantID, d.Reason)
	}
	fmt.Printf("allowed in tenant %s\n", d.TenantID)
	return nil
}

func splitCodes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags]

commands:
  seed                                   ensure builtin roles and permissions
  create-tenant -name N                  create a tenant
  create-user -email E [-tenant T] [-roles r1,r2]
  grant -email E (-tenant T | -platform) -roles r1,r2
  gc [-grace D]                          delete expired refresh tokens
  check [-addr A] [-tenant T] perm...    ask the Authz gRPC service
`, os.Args[0])
	os.Exit(2)
}
