// Package main is the entry point for the flowcore workflow service. It
// wires all dependencies together and starts the HTTP server.
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
	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/internal/audit"
	"github.com/oryxworks/flowcore/internal/authz"
	"github.com/oryxworks/flowcore/internal/config"
	"github.com/oryxworks/flowcore/internal/entity"
	"github.com/oryxworks/flowcore/internal/eventbus"
	"github.com/oryxworks/flowcore/internal/observability"
	"github.com/oryxworks/flowcore/internal/registry"
	"github.com/oryxworks/flowcore/internal/transport"
	"github.com/oryxworks/flowcore/internal/workflow"
	"github.com/oryxworks/flowcore/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// grantCacheTTL bounds how stale a cached role grant can be when the cache is
// not explicitly invalidated.
const grantCacheTTL = 5 * time.Minute

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

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, cfg.EventBus.ServiceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	stores, closeStores, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer closeStores()

	bus := eventbus.New(cfg.EventBus.ServiceName, cfg.EventBus.HandlerTimeout, stores.events, logger, metrics)
	subscribeAuditTrail(bus, logger)

	recorder := audit.NewRecorder(stores.logs, logger)
	evaluator := authz.NewEvaluator(stores.registry, grantCacheTTL)

	engine := workflow.NewEngine(stores.registry, stores.states, stores.entities,
		evaluator, bus, recorder, logger, metrics)

	registrySvc := registry.NewService(stores.registry, stores.states, logger)
	registrySvc.SetGrantCache(evaluator)

	authenticate, err := buildAuthenticator(cfg, logger)
	if err != nil {
		logger.Error("authenticator initialization failed", zap.Error(err))
		return 1
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Registry:     registrySvc,
		Recorder:     recorder,
		Bus:          bus,
		EventStore:   stores.events,
		Metrics:      metrics,
		Authenticate: authenticate,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("identity_mode", cfg.Identity.Mode),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests, then let
	// event handlers finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := bus.Close(cfg.EventBus.DrainTimeout); err != nil {
		logger.Warn("event bus drain incomplete", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// storeSet groups the per-concern stores that share one backend.
type storeSet struct {
	registry registry.Store
	states   workflow.Store
	entities entity.Store
	events   eventbus.Store
	logs     audit.Store
}

// buildStores creates all persistence stores over the configured backend.
// The postgres driver shares a single connection pool.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*storeSet, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return &storeSet{
			registry: registry.NewMemoryStore(),
			states:   workflow.NewMemoryStore(),
			entities: entity.NewMemoryStore(),
			events:   eventbus.NewMemoryStore(),
			logs:     audit.NewMemoryStore(),
		}, func() {}, nil

	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return &storeSet{
			registry: registry.NewPgStore(pool),
			states:   workflow.NewPgStore(pool),
			entities: entity.NewPgStore(pool),
			events:   eventbus.NewPgStore(pool),
			logs:     audit.NewPgStore(pool),
		}, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildAuthenticator picks the authentication middleware for the configured
// identity mode.
func buildAuthenticator(cfg *config.Config, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	switch cfg.Identity.Mode {
	case "gateway", "":
		return transport.GatewayAuthenticator(), nil
	case "jwt":
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		return transport.JWTAuthenticator(cfg.Identity, jwks), nil
	default:
		return nil, fmt.Errorf("unsupported identity mode: %q", cfg.Identity.Mode)
	}
}

// subscribeAuditTrail logs workflow lifecycle events as they are broadcast.
func subscribeAuditTrail(bus *eventbus.Bus, logger *zap.Logger) {
	events := []string{
		model.EventWorkflowInitialized,
		model.EventStepTransitioned,
		model.EventWorkflowReassigned,
		model.EventWorkflowCompleted,
	}
	for _, eventType := range events {
		bus.Subscribe(eventType, "lifecycle-logger", func(_ context.Context, event model.DomainEvent) error {
			logger.Info("workflow event",
				zap.String("event_type", event.EventType),
				zap.String("event_id", event.EventID),
				zap.String("correlation_id", event.CorrelationID),
			)
			return nil
		})
	}
}
