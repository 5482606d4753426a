// Stillmind backend — accepts meditation video generation requests over
// HTTP, charges credits, and drives the generation pipeline through a
// durable PostgreSQL-backed job queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stillmind/backend/pkg/api"
	"github.com/stillmind/backend/pkg/cleanup"
	"github.com/stillmind/backend/pkg/composer"
	"github.com/stillmind/backend/pkg/config"
	"github.com/stillmind/backend/pkg/database"
	"github.com/stillmind/backend/pkg/ledger"
	"github.com/stillmind/backend/pkg/objectstore"
	"github.com/stillmind/backend/pkg/pipeline"
	"github.com/stillmind/backend/pkg/providers"
	"github.com/stillmind/backend/pkg/queue"
	"github.com/stillmind/backend/pkg/services"
	"github.com/stillmind/backend/pkg/store"
	"github.com/stillmind/backend/pkg/version"
)

// resolvePodID determines the pod identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	podID := resolvePodID()
	slog.Info("Starting stillmind backend",
		"version", version.Full(), "http_port", cfg.HTTPPort, "pod_id", podID)

	ctx := context.Background()

	// Database (opens pool, applies embedded migrations)
	dbClient, err := database.NewClient(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	db := dbClient.DB()
	slog.Info("Connected to PostgreSQL database")

	// Storage + media providers
	storage, err := objectstore.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize object storage", "error", err)
		os.Exit(1)
	}

	scriptClient := providers.NewOpenAIScriptClient(
		cfg.Providers.ScriptAPIURL, cfg.Providers.ScriptAPIKey, cfg.Providers.ScriptModel)
	voiceClient := providers.NewElevenLabsVoiceClient(
		cfg.Providers.VoiceAPIURL, cfg.Providers.VoiceAPIKey)
	videoClient := providers.NewVeoVideoClient(
		cfg.Providers.VideoAPIURL, cfg.Providers.VideoAPIKey, cfg.Providers.VideoModel)

	// Stores, ledger, queue
	generationStore := store.NewGenerationStore(db)
	videoStore := store.NewVideoStore(db)
	creditLedger := ledger.New(db)
	jobQueue := queue.New(db, cfg.Queue.MaxAttempts)

	// Pipeline executor drives claimed jobs through the five stages.
	executor := pipeline.NewExecutor(
		generationStore, videoStore,
		scriptClient, voiceClient, videoClient,
		storage, composer.NewFFmpegComposer(logger),
		cfg.Providers.DefaultVoiceID, logger,
	)

	// One-time startup orphan recovery for jobs this replica abandoned. The
	// executor is the failure hook here too, so an interrupted final attempt
	// still marks its request failed.
	if err := queue.RequeueStartupOrphans(ctx, db, podID, executor); err != nil {
		slog.Error("Failed to requeue startup orphans", "error", err)
		// Non-fatal — the periodic orphan scan covers these too
	}

	workerPool := queue.NewWorkerPool(podID, db, &cfg.Queue, executor, executor)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// Retention + lost-enqueue recovery
	sweeper := cleanup.NewService(&cfg.Retention, jobQueue, generationStore)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Application services + HTTP server
	submissionService := services.NewSubmissionService(db, creditLedger, generationStore, jobQueue, logger)
	generationService := services.NewGenerationService(generationStore, logger)

	httpServer := api.NewServer(":"+cfg.HTTPPort, db,
		submissionService, generationService, workerPool,
		cfg.JWTSecret, cfg.CORSAllowOrigins, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Stillmind backend started", "pod_id", podID, "workers", cfg.Queue.Concurrency)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: drain workers first so running pipelines finish,
	// then stop accepting HTTP traffic.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — running jobs will be orphan-recovered")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
