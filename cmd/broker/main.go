// Command broker runs the lmbroker session broker over HTTP.
//
// Configuration is read from a YAML file (-config, LMBROKER_CONFIG,
// ./config.yaml or /etc/lmbroker/config.yaml) with LMBROKER_* environment
// overrides. The minimal setup is:
//
//	LMBROKER_BACKEND_URL - OpenAI-compatible engine URL (required)
//	LMBROKER_MODEL       - Model served by the engine (required)
//	LMBROKER_PORT        - Listen port (default: 8080)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/lmbroker/pkg/auth"
	"github.com/rhuss/lmbroker/pkg/auth/apikey"
	"github.com/rhuss/lmbroker/pkg/auth/jwt"
	"github.com/rhuss/lmbroker/pkg/auth/noop"
	"github.com/rhuss/lmbroker/pkg/broker"
	"github.com/rhuss/lmbroker/pkg/config"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/platform"
	"github.com/rhuss/lmbroker/pkg/provider/openaicompat"
	"github.com/rhuss/lmbroker/pkg/security"
	"github.com/rhuss/lmbroker/pkg/storage/memory"
	"github.com/rhuss/lmbroker/pkg/storage/postgres"
	"github.com/rhuss/lmbroker/pkg/transport"
	transporthttp "github.com/rhuss/lmbroker/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("broker failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(cfg.Debug.Categories, cfg.Debug.Level, cfg.Debug.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := openaicompat.New(openaicompat.Config{
		BaseURL:      cfg.Engine.BackendURL,
		APIKey:       cfg.Engine.APIKey,
		Model:        cfg.Engine.Model,
		TaggingModel: cfg.Engine.TaggingModel,
		Timeout:      cfg.Engine.Timeout,
		MaxRetries:   cfg.Engine.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	validator, err := security.New(cfg.Security.Policy, cfg.Security.MaxPromptLength)
	if err != nil {
		prov.Close()
		return err
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		prov.Close()
		return fmt.Errorf("creating exchange store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	b, err := broker.New(prov, broker.Config{
		Validator: validator,
		Gate:      platform.NewHost(cfg.Platform.SupportedOS),
		Store:     store,
	})
	if err != nil {
		prov.Close()
		return fmt.Errorf("creating broker: %w", err)
	}

	authMW, err := newAuthMiddleware(cfg.Auth, cfg.Observability.Metrics.Path)
	if err != nil {
		b.Close(context.Background())
		return fmt.Errorf("configuring auth: %w", err)
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithReadTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithKeepAlive(cfg.Server.KeepAlive),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithMiddleware(authMW),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithHandler("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()))
	}

	srv := transporthttp.NewServer(b, store, b.Ready, opts...)

	slog.Info("broker configured",
		"backend", cfg.Engine.BackendURL,
		"model", cfg.Engine.Model,
		"security_policy", cfg.Security.Policy,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)

	serveErr := srv.ListenAndServe(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := b.Close(closeCtx); err != nil {
		slog.Warn("broker close", "error", err)
	}

	return serveErr
}

// newStore returns nil when exchange history is disabled.
func newStore(ctx context.Context, cfg config.StorageConfig) (transport.ExchangeStore, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := postgres.New(connectCtx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage disabled")
		return nil, nil
	}
}

// newAuthMiddleware builds the auth chain for cfg.Type. Health checks and
// the metrics path bypass authentication.
func newAuthMiddleware(cfg config.AuthConfig, metricsPath string) (transport.Middleware, error) {
	chain := &auth.Chain{Fallback: auth.Reject}

	switch cfg.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject, Tier: k.ServiceTier, Tenant: k.TenantID},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
	case "jwt":
		authn, err := jwt.New(jwt.Config{
			Secret:      []byte(cfg.JWT.Secret),
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			TenantClaim: cfg.JWT.TenantClaim,
			TierClaim:   cfg.JWT.TierClaim,
			Leeway:      cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		chain.Authenticators = []auth.Authenticator{authn}
	default:
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.DefaultRPM > 0 || len(cfg.RateLimit.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, t := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: t.RequestsPerMinute, Burst: t.Burst}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.DefaultRPM)
	}

	bypass := append(slices.Clone(auth.DefaultBypassEndpoints), metricsPath)
	return auth.Middleware(chain, limiter, bypass), nil
}
