// Package pool coordinates the family image pool: admitting uploads, leasing
// tasks to members, running extraction on a held task and answering queries.
//
// Correctness under concurrency rests entirely on the compare-and-set
// transitions of store.TaskStore. The service holds no locks and keeps no
// state between calls.
package pool

import (
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/sunlog-api/internal/blob"
	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"github.com/phrazzld/sunlog-api/internal/ratelimit"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// Config holds the pool rules the service enforces.
type Config struct {
	LeaseTimeout        time.Duration
	ProcessingTimeout   time.Duration
	MaxOutstanding      int
	MaxFileBytes        int64
	AllowedContentTypes []string
	DefaultPageSize     int
	MaxPageSize         int
}

// ConfigFrom converts the application pool configuration.
func ConfigFrom(c config.PoolConfig) Config {
	return Config{
		LeaseTimeout:        c.LeaseTimeout,
		ProcessingTimeout:   c.ProcessingTimeout,
		MaxOutstanding:      c.MaxOutstanding,
		MaxFileBytes:        c.MaxFileBytes,
		AllowedContentTypes: c.AllowedContentTypes,
		DefaultPageSize:     c.DefaultPageSize,
		MaxPageSize:         c.MaxPageSize,
	}
}

// Dependencies bundles the collaborators of the service.
type Dependencies struct {
	Tasks     store.TaskStore
	Audit     store.AuditStore
	Storage   blob.Storage
	Extractor extraction.Extractor
	Limiter   ratelimit.Limiter
	Logger    *slog.Logger
}

// Service implements the pool operations.
type Service struct {
	tasks     store.TaskStore
	audit     store.AuditStore
	storage   blob.Storage
	extractor extraction.Extractor
	limiter   ratelimit.Limiter
	logger    *slog.Logger
	cfg       Config
	allowed   map[string]struct{}
	now       func() time.Time
}

// NewService creates the pool service. Limiter defaults to ratelimit.Unlimited.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if deps.Audit == nil {
		return nil, errors.New("audit store cannot be nil")
	}
	if deps.Storage == nil {
		return nil, errors.New("blob storage cannot be nil")
	}
	if deps.Extractor == nil {
		return nil, errors.New("extractor cannot be nil")
	}
	if cfg.LeaseTimeout <= 0 {
		return nil, errors.New("lease timeout must be positive")
	}
	if cfg.MaxOutstanding <= 0 {
		return nil, errors.New("max outstanding must be positive")
	}
	if cfg.MaxFileBytes <= 0 {
		return nil, errors.New("max file bytes must be positive")
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[ct] = struct{}{}
	}

	return &Service{
		tasks:     deps.Tasks,
		audit:     deps.Audit,
		storage:   deps.Storage,
		extractor: deps.Extractor,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "pool_service")),
		cfg:       cfg,
		allowed:   allowed,
		now:       time.Now,
	}, nil
}

// SetClock replaces the service clock. Tests use it to drive lease expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
