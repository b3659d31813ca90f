package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"

	_ "github.com/bizmatters/agent-builder/domain-orchestrator/docs" // swagger docs
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/gateway"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

// @title Domain Orchestrator API
// @version 1.0
// @description Stage-gated generation workflow: domain analysis, business context,
// @description ASCII diagram, OpenAPI and security specifications.

// @contact.name API Support
// @contact.email support@bizmatters.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tp, err := initTracer()
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	genMetrics, err := metrics.NewGenerationMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	backend, checks, cleanup, err := openBackend(context.Background(), cfg.State, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	client := generation.NewHTTPClient(cfg.GenerationURL,
		generation.WithLogger(logger),
		generation.WithMetrics(genMetrics),
		generation.WithTimeout(cfg.RequestTimeout),
	)

	registry := orchestration.NewRegistry(backend, client, logger,
		orchestration.WithMetrics(genMetrics),
		orchestration.WithRetryPolicy(cfg.Diagram.Policy()),
		orchestration.WithDiagramLimits(cfg.Diagram.PayloadLimit, cfg.Diagram.SectionLimit),
	)

	handlerOpts := []gateway.Option{gateway.WithLogger(logger)}
	for name, check := range checks {
		handlerOpts = append(handlerOpts, gateway.WithReadinessCheck(name, check))
	}
	handler := gateway.NewHandler(registry, client, handlerOpts...)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gateway.RequestLogger(logger))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	handler.RegisterRoutes(router, jwtManager)

	// Diagram generation may run several attempts within one request.
	writeTimeout := cfg.RequestTimeout
	for _, t := range cfg.Diagram.Timeouts {
		writeTimeout += t + cfg.Diagram.Backoff
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting domain orchestrator API server",
			"port", cfg.Port,
			"state_backend", cfg.State.Backend,
			"generation_api_url", cfg.GenerationURL,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// openBackend builds the configured state backend and its readiness checks.
func openBackend(ctx context.Context, cfg config.StateConfig, logger *slog.Logger) (store.Backend, map[string]gateway.ReadinessCheck, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendFile:
		fb, err := store.NewFileBackend(cfg.Dir, store.WithFileLogger(logger))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to open state dir: %w", err)
		}
		return fb, nil, noop, nil

	case config.BackendPostgres:
		pool, err := connectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, noop, err
		}
		pg := store.NewPostgresBackend(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, noop, fmt.Errorf("failed to ensure schema: %w", err)
		}
		checks := map[string]gateway.ReadinessCheck{"database": pool.Ping}
		return pg, checks, pool.Close, nil

	default:
		return store.NewMemoryBackend(), nil, noop, nil
	}
}

// connectPostgres connects with a retry loop so the service can start
// before the database is reachable.
func connectPostgres(ctx context.Context, dbURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("connecting to PostgreSQL database")
	var pool *pgxpool.Pool
	var err error

	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(ctx, dbURL)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				logger.Info("connected to PostgreSQL database")
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("waiting for database", "attempt", i+1, "max_attempts", 10, "error", err)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
}

// initTracer initializes OpenTelemetry tracing
func initTracer() (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}
