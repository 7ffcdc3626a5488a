package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learnhub.io/internal/auth"
	"learnhub.io/internal/cache"
	"learnhub.io/internal/config"
	"learnhub.io/internal/grpcapi"
	"learnhub.io/internal/httpapi"
	"learnhub.io/internal/obs"
	"learnhub.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	obs.SetLogger(obs.NewLogger(os.Stdout, cfg.LogLevel))
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := httpapi.ReadyProbe{Checks: map[string]func(context.Context) error{}}

	var store auth.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		probe.Checks["postgres"] = pgStore.Ping
		store = pgStore
	} else {
		logger.Warn("no database configured, using in-memory store")
		store = auth.NewMemoryStore()
	}

	var authzOpts []auth.AuthorizerOption
	var registryOpts []auth.RegistryOption
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return err
		}
		defer client.Close()
		probe.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		decisions := cache.NewDecisionCache(client, cfg.AuthzCacheTTL)
		authzOpts = append(authzOpts, auth.WithDecisionCache(decisions))
		registryOpts = append(registryOpts, auth.WithRegistryCache(decisions))
	}

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		Issuer:        cfg.Token.Issuer,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	})
	if err != nil {
		return err
	}
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	metrics := obs.AuthMetrics{}
	svc, err := auth.NewService(store, codec,
		auth.WithPasswordHasher(hasher),
		auth.WithObserver(metrics),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	registry, err := auth.NewRegistry(store, append(registryOpts, auth.WithRegistryLogger(logger))...)
	if err != nil {
		return err
	}
	if err := registry.EnsureBuiltins(ctx); err != nil {
		return err
	}
	authz, err := auth.NewAuthorizer(store, store, append(authzOpts,
		auth.WithDecisionObserver(metrics),
		auth.WithAuthorizerLogger(logger),
	)...)
	if err != nil {
		return err
	}
	resolver, err := auth.NewTenantResolver(store)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Service:        svc,
		Registry:       registry,
		Authorizer:     authz,
		Resolver:       resolver,
		Ready:          probe,
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.RefreshCookieSecure,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		RateBurst:      cfg.RateLimit.Burst,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http_listening", "addr", srv.Addr, "version", version, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var stopGRPC func()
	if cfg.GRPCAddr != "" {
		guard, err := grpcapi.NewGuard(svc, authz, resolver, grpcapi.DefaultPolicies())
		if err != nil {
			return err
		}
		gs, _ := grpcapi.NewServer(guard, grpcapi.NewAuthzService(authz, resolver))
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("grpc_listening", "addr", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		stopGRPC = gs.GracefulStop
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server_failed", "error", err.Error())
	}
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopGRPC != nil {
		stopGRPC()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
