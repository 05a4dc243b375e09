// Command formpilot runs the conversational form-filling service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/formpilot/formpilot/internal/adapter/blobfs"
	fphttp "github.com/formpilot/formpilot/internal/adapter/http"
	fpnats "github.com/formpilot/formpilot/internal/adapter/nats"
	"github.com/formpilot/formpilot/internal/adapter/natskv"
	"github.com/formpilot/formpilot/internal/adapter/openai"
	"github.com/formpilot/formpilot/internal/adapter/otel"
	"github.com/formpilot/formpilot/internal/adapter/postgres"
	"github.com/formpilot/formpilot/internal/adapter/ristretto"
	"github.com/formpilot/formpilot/internal/adapter/ws"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/logger"
	"github.com/formpilot/formpilot/internal/middleware"
	"github.com/formpilot/formpilot/internal/port/cache"
	"github.com/formpilot/formpilot/internal/resilience"
	"github.com/formpilot/formpilot/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"forms_dir", cfg.Forms.Dir,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := fpnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	mappingKV, err := queue.KeyValue(ctx, cfg.NATS.MappingBucket, 0)
	if err != nil {
		return fmt.Errorf("mapping bucket: %w", err)
	}
	var idempotencyKV jetstream.KeyValue
	if cfg.NATS.IdempotencyBucket != "" {
		idempotencyKV, err = queue.KeyValue(ctx, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
	}

	var formCache cache.Cache
	if cfg.Forms.SharedCacheBucket != "" {
		formKV, err := queue.KeyValue(ctx, cfg.Forms.SharedCacheBucket, cfg.Forms.CacheTTL)
		if err != nil {
			return fmt.Errorf("form cache bucket: %w", err)
		}
		formCache = natskv.NewCache(formKV)
	} else {
		local, err := ristretto.New(cfg.Forms.CacheSizeMB << 20)
		if err != nil {
			return fmt.Errorf("form cache: %w", err)
		}
		defer local.Close()
		formCache = local
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	mappings := natskv.NewMappingStore(mappingKV)

	aiClient := openai.NewClient(cfg.OpenAI)
	aiClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	harness := service.NewAgentHarness(aiClient, aiClient, aiClient, aiClient, aiClient, cfg.Agents, metrics)
	lifecycle := service.NewLifecycleService(store, mappings, hub, metrics)
	forms := service.NewFormLoaderService(blobfs.New(cfg.Forms.Dir), formCache, cfg.Forms.CacheTTL)
	pipeline := service.NewPipelineService(lifecycle, forms, harness, store, queue)
	orchestrator := service.NewOrchestratorService(store, queue, hub, metrics, cfg.Session)

	stopOrchestrator, err := orchestrator.Start(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer stopOrchestrator()

	// --- HTTP ---

	handlers := &fphttp.Handlers{
		Lifecycle: lifecycle,
		Pipeline:  pipeline,
		Forms:     forms,
		Store:     store,
		Queue:     queue,
		Pool:      pool,
	}

	r := chi.NewRouter()
	r.Use(fphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(fphttp.Logger)
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	fphttp.MountRoutes(r, handlers, hub, idempotencyKV)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	orchestrator.Stop()
	return queue.Drain()
}
