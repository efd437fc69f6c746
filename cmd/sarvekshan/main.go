// Package main is the entry point for the Sarvekshan survey client.
// It wires all dependencies together and runs the interactive shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/auth"
	"github.com/pitabwire/sarvekshan/internal/catalog"
	"github.com/pitabwire/sarvekshan/internal/config"
	"github.com/pitabwire/sarvekshan/internal/identity"
	"github.com/pitabwire/sarvekshan/internal/navigation"
	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/internal/profile"
	"github.com/pitabwire/sarvekshan/internal/response"
	"github.com/pitabwire/sarvekshan/internal/shell"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "sarvekshan", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var (
		metrics  *observability.Metrics
		promReg  *prometheus.Registry
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		metrics = observability.InitMetrics(promReg)
		gatherer = promReg
	}

	registry, err := catalog.Load(cfg.Catalog.Directories,
		catalog.WithLogger(logger),
		catalog.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("survey catalog load failed", zap.Error(err))
		return 1
	}

	responses, responseHealth, closeResponses, err := buildResponseStore(ctx, cfg.Store.Responses, logger)
	if err != nil {
		logger.Error("response store initialization failed", zap.Error(err))
		return 1
	}
	defer closeResponses()

	drafts, draftHealth, closeDrafts, err := buildDraftStore(ctx, cfg.Store, responses, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}
	defer closeDrafts()

	provider, err := buildProvider(cfg.Identity, metrics, logger)
	if err != nil {
		logger.Error("identity provider initialization failed", zap.Error(err))
		return 1
	}

	opts := []navigation.Option{
		navigation.WithAuthOptions(
			auth.WithCooldown(int(cfg.Identity.ResendCooldown/time.Second)),
			auth.WithTickInterval(cfg.Identity.TickInterval),
		),
		navigation.WithLogger(logger),
		navigation.WithMetrics(metrics),
	}
	if profiles, ok := responses.(response.ProfileStore); ok {
		regions, err := loadRegions(cfg.Profile, logger)
		if err != nil {
			logger.Error("region directory load failed", zap.Error(err))
			return 1
		}
		opts = append(opts, navigation.WithProfiles(profiles, regions))
	}

	controller := navigation.NewController(provider, registry, responses, drafts, opts...)
	defer controller.Close()

	var srv *http.Server
	srvErr := make(chan error, 1)
	if cfg.Ops.Enabled {
		srv = &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Ops.Port),
			Handler: observability.NewOpsRouter(metrics, gatherer, cfg.Observability.Metrics.Path, observability.ReadinessChecks{
				CatalogLoaded: registry.Loaded,
				ResponseStore: responseHealth,
				DraftStore:    draftHealth,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				srvErr <- err
			}
			close(srvErr)
		}()
	}

	logger.Info("client started",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("surveys", registry.Len()),
		zap.String("catalog_checksum", registry.Checksum()),
		zap.String("identity_driver", cfg.Identity.Driver),
	)

	shellCtx, cancelShell := context.WithCancel(ctx)
	defer cancelShell()
	go func() {
		select {
		case err, ok := <-srvErr:
			if ok && err != nil {
				logger.Error("ops server error", zap.Error(err))
				cancelShell()
			}
		case <-shellCtx.Done():
		}
	}()

	exit := 0
	sh := shell.New(controller, os.Stdin, os.Stdout, shell.WithLogger(logger))
	if err := sh.Run(shellCtx); err != nil {
		logger.Error("shell stopped", zap.Error(err))
		exit = 1
	}

	logger.Info("shutdown initiated")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exit
}

// buildResponseStore creates the submitted-response store based on config.
func loadRegions(cfg config.ProfileConfig, logger *zap.Logger) (*profile.Directory, error) {
	if cfg.RegionsFile == "" {
		logger.Warn("no regions file configured; profile state list is empty")
		return profile.NewDirectory(nil)
	}
	dir, err := profile.LoadDirectory(cfg.RegionsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("region directory loaded",
		zap.String("path", cfg.RegionsFile),
		zap.Int("regions", len(dir.Regions())),
	)
	return dir, nil
}

func buildResponseStore(ctx context.Context, cfg config.ResponseStoreConfig, logger *zap.Logger) (response.Store, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory response store")
		s := response.NewMemoryStore()
		return s, s, func() {}, nil
	case "postgres":
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		s := response.NewPgStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("response store: schema: %w", err)
		}
		return s, s, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported response store driver: %q", cfg.Driver)
	}
}

// buildDraftStore creates the snapshot store. The memory and postgres drivers
// reuse the response store when it has the same backing.
func buildDraftStore(ctx context.Context, cfg config.StoreConfig, responses response.Store, logger *zap.Logger) (response.DraftStore, observability.HealthChecker, func(), error) {
	switch cfg.Drafts.Driver {
	case "memory", "":
		if s, ok := responses.(*response.MemoryStore); ok {
			return s, s, func() {}, nil
		}
		logger.Info("using in-memory draft store")
		s := response.NewMemoryStore()
		return s, s, func() {}, nil
	case "redis":
		addr := os.Getenv(cfg.Drafts.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("draft store: %s environment variable not set", cfg.Drafts.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Drafts.DB})
		s := response.NewRedisDraftStore(client, cfg.Drafts.TTL)
		if err := s.HealthCheck(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("draft store: ping: %w", err)
		}
		return s, s, func() { _ = client.Close() }, nil
	case "postgres":
		if s, ok := responses.(*response.PgStore); ok {
			return s, s, func() {}, nil
		}
		pool, err := openPool(ctx, cfg.Responses)
		if err != nil {
			return nil, nil, nil, err
		}
		s := response.NewPgStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("draft store: schema: %w", err)
		}
		return s, s, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Drafts.Driver)
	}
}

func openPool(ctx context.Context, cfg config.ResponseStoreConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("postgres: %s environment variable not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// buildProvider creates the OTP identity provider based on config.
func buildProvider(cfg config.IdentityConfig, metrics *observability.Metrics, logger *zap.Logger) (identity.Provider, error) {
	switch cfg.Driver {
	case "http":
		breaker := identity.NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		)
		return identity.NewHTTPProvider(cfg.BaseURL, cfg.Timeout,
			identity.WithBreaker(breaker),
			identity.WithProviderMetrics(metrics),
			identity.WithProviderLogger(logger),
		), nil
	case "dev":
		secret := os.Getenv(cfg.Dev.SecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("dev identity: %s environment variable not set", cfg.Dev.SecretEnv)
		}
		logger.Warn("using development identity provider")
		return identity.NewDevProvider(cfg.Dev.Code, []byte(secret), cfg.Dev.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unsupported identity driver: %q", cfg.Driver)
	}
}
