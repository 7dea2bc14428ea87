// Package main implements the entry point for the Sunlog API server, which
// shares a family's sunshine-log photos as a pool of transcription tasks and
// extracts readings from them with an LLM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/service/auth"
)

// cliOptions are the one-shot commands the binary can run instead of serving.
type cliOptions struct {
	migrate    string
	purgeGroup string
	issueToken string
	tokenTTL   time.Duration
}

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&opts.migrate, "migrate", "", "run a migration command (up|down|status|version|reset) and exit")
	fs.StringVar(&opts.purgeGroup, "purge-group", "", "delete every pool task and image of a family group and exit")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a bearer token for the given member id and exit")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.migrate != "" && !validMigrationCommand(opts.migrate) {
		return opts, fmt.Errorf("unknown migration command %q", opts.migrate)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_backend", cfg.Storage.Backend,
		"extractor", cfg.Extractor.Provider,
		"rate_limit_backend", cfg.RateLimit.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger, opts); err != nil {
		appLogger.Error("Fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger, opts cliOptions) error {
	if opts.issueToken != "" {
		return issueToken(ctx, cfg, opts.issueToken, opts.tokenTTL)
	}

	db, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	if opts.migrate != "" {
		defer func() { _ = db.Close() }()
		return runMigrations(db, opts.migrate, appLogger)
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if opts.purgeGroup != "" {
		defer app.cleanup()
		return app.purgeGroup(ctx, opts.purgeGroup)
	}

	return app.Run(ctx)
}

// issueToken prints a signed bearer token, for local development against a
// server that shares the same secret.
func issueToken(ctx context.Context, cfg *config.Config, rawMemberID string, ttl time.Duration) error {
	memberID, err := uuid.Parse(rawMemberID)
	if err != nil {
		return fmt.Errorf("invalid member id: %w", err)
	}
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return err
	}
	token, err := jwtService.GenerateToken(ctx, memberID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
