package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MRwang520a/pixelstudio-api/internal/config"
	"github.com/MRwang520a/pixelstudio-api/internal/events"
	"github.com/MRwang520a/pixelstudio-api/internal/platform/gemini"
	"github.com/MRwang520a/pixelstudio-api/internal/platform/postgres"
	"github.com/MRwang520a/pixelstudio-api/internal/platform/redis"
	"github.com/MRwang520a/pixelstudio-api/internal/processing"
	"github.com/MRwang520a/pixelstudio-api/internal/service"
	"github.com/MRwang520a/pixelstudio-api/internal/service/auth"
	"github.com/MRwang520a/pixelstudio-api/internal/store"
	"github.com/MRwang520a/pixelstudio-api/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore  store.TaskStore
	quotaStore store.QuotaStore

	// Service interfaces
	jwtService   auth.JWTService
	taskService  service.TaskService
	quotaService service.QuotaService

	// Event system
	eventEmitter events.EventEmitter

	// Task execution
	processor  processing.Processor
	dispatcher *task.Dispatcher

	// Background jobs and optional infrastructure
	quotaResetJob *service.QuotaResetJob
	redisClient   *goredis.Client
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize JWT service
	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized")

	// Initialize stores
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.quotaStore = postgres.NewPostgresQuotaStore(db, logger)

	// Create the image processor and register it for every task type
	imageProcessor, err := gemini.NewImageProcessor(
		ctx,
		logger.With("component", "image_processor"),
		cfg.Processor,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image processor: %w", err)
	}
	registry := processing.NewRegistry()
	registry.RegisterAll(imageProcessor)
	app.processor = registry
	logger.Info("Image processor initialized", "model", cfg.Processor.ModelName)

	// Initialize the dispatcher
	app.dispatcher = task.NewDispatcher(app.taskStore, app.processor, task.DispatcherConfig{
		WorkerCount:    cfg.Task.WorkerCount,
		QueueSize:      cfg.Task.QueueSize,
		ProcessTimeout: time.Duration(cfg.Task.ProcessTimeoutSeconds) * time.Second,
		StuckTaskAge:   time.Duration(cfg.Task.StuckTaskAgeMinutes) * time.Minute,
	}, logger.With("component", "dispatcher"))

	// Initialize event emitter and wire created tasks into the dispatcher
	emitter := events.NewInMemoryEventEmitter(logger)
	dispatchHandler, err := task.NewDispatchEventHandler(app.dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch event handler: %w", err)
	}
	emitter.RegisterHandler(dispatchHandler)
	app.eventEmitter = emitter

	// Optional Redis status cache for the polling path
	var statusCache service.StatusCache
	if cfg.Redis.Addr != "" {
		app.redisClient = redis.NewClient(cfg.Redis.Addr)
		ttl := time.Duration(cfg.Redis.StatusCacheTTLSec) * time.Second
		statusCache = redis.NewStatusCache(app.redisClient, ttl, logger)
		logger.Info("Redis status cache enabled", "ttl", ttl)
	}

	// Initialize task service
	app.taskService, err = service.NewTaskService(
		app.taskStore,
		app.eventEmitter,
		statusCache,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	// Initialize quota service
	resetPeriod := time.Duration(cfg.Quota.ResetPeriodDays) * 24 * time.Hour
	app.quotaService, err = service.NewQuotaService(app.quotaStore, app.db, resetPeriod, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota service: %w", err)
	}

	// Initialize the quota reset job
	app.quotaResetJob, err = service.NewQuotaResetJob(
		app.quotaStore,
		cfg.Quota.ResetCheckCron,
		resetPeriod,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota reset job: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the background machinery and the HTTP server, handling
// lifecycle and cleanup. It returns when the server shuts down.
func (app *application) Run(ctx context.Context) error {
	// Start the dispatcher first: its recovery sweep re-enqueues pending
	// tasks and resets tasks stranded in processing by a previous run.
	if err := app.dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	app.quotaResetJob.Start()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}

	if app.quotaResetJob != nil {
		app.quotaResetJob.Stop()
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Error closing Redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
