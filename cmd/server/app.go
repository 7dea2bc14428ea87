package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/blob"
	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"github.com/phrazzld/sunlog-api/internal/platform/gemini"
	"github.com/phrazzld/sunlog-api/internal/platform/postgres"
	"github.com/phrazzld/sunlog-api/internal/ratelimit"
	"github.com/phrazzld/sunlog-api/internal/service/auth"
	"github.com/phrazzld/sunlog-api/internal/service/pool"
	"github.com/phrazzld/sunlog-api/internal/store"
	"github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore  store.TaskStore
	auditStore store.AuditStore
	members    store.MemberDirectory

	// Collaborators
	storage   blob.Storage
	extractor extraction.Extractor
	limiter   ratelimit.Limiter
	redis     *redis.Client

	// Services
	jwtService  auth.JWTService
	poolService *pool.Service
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

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.auditStore = postgres.NewPostgresAuditStore(db, logger)
	app.members = postgres.NewPostgresMemberDirectory(db, logger)

	if app.storage, err = newBlobStorage(ctx, cfg.Storage, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	logger.Info("Blob storage initialized", "backend", cfg.Storage.Backend)

	if app.extractor, err = newExtractor(ctx, cfg.Extractor, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	logger.Info("Extractor initialized", "provider", app.extractor.Name())

	if err := app.setupLimiter(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	logger.Info("Rate limiter initialized",
		"backend", cfg.RateLimit.Backend,
		"daily_limit", cfg.RateLimit.DailyLimit)

	app.poolService, err = pool.NewService(pool.Dependencies{
		Tasks:     app.taskStore,
		Audit:     app.auditStore,
		Storage:   app.storage,
		Extractor: app.extractor,
		Limiter:   app.limiter,
		Logger:    logger,
	}, pool.ConfigFrom(cfg.Pool))
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create pool service: %w", err)
	}

	logger.Info("Application initialized successfully",
		"lease_timeout", cfg.Pool.LeaseTimeout,
		"processing_timeout", cfg.Pool.ProcessingTimeout,
		"max_outstanding", cfg.Pool.MaxOutstanding)
	return app, nil
}

func newBlobStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (blob.Storage, error) {
	switch cfg.Backend {
	case "fs":
		return blob.NewFileSystem(cfg.BasePath, logger)
	case "minio":
		return blob.NewMinIO(ctx, cfg.MinIO, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newExtractor(ctx context.Context, cfg config.ExtractorConfig, logger *slog.Logger) (extraction.Extractor, error) {
	switch cfg.Provider {
	case extraction.MockProviderName:
		return extraction.NewMock(), nil
	case gemini.ProviderName:
		return gemini.NewExtractor(ctx, cfg, logger.With("component", "gemini_extractor"))
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}
}

func (app *application) setupLimiter(ctx context.Context) error {
	cfg := app.config.RateLimit
	switch cfg.Backend {
	case "postgres":
		limiter, err := ratelimit.NewDaily(postgres.NewPostgresUsageStore(app.db, app.logger), cfg.DailyLimit)
		if err != nil {
			return err
		}
		app.limiter = limiter
	case "redis":
		client, err := ratelimit.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		app.redis = client
		limiter, err := ratelimit.NewRedis(client, cfg.DailyLimit)
		if err != nil {
			return err
		}
		app.limiter = limiter
	case "none":
		app.limiter = ratelimit.Unlimited{}
	default:
		return fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
	return nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// purgeGroup removes every task and image of a family group.
func (app *application) purgeGroup(ctx context.Context, rawGroupID string) error {
	groupID, err := uuid.Parse(rawGroupID)
	if err != nil {
		return fmt.Errorf("invalid group id: %w", err)
	}

	n, err := app.poolService.DeleteGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to purge group: %w", err)
	}
	app.logger.Info("Group purged", "group_id", groupID, "deleted_tasks", n)
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
