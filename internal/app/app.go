// Package app wires configuration into a ready service: storage, embedder,
// lock, metrics and the sync service on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MereWhiplash/embedsync/internal/config"
	"github.com/MereWhiplash/embedsync/internal/embedder"
	"github.com/MereWhiplash/embedsync/internal/lock"
	"github.com/MereWhiplash/embedsync/internal/metrics"
	"github.com/MereWhiplash/embedsync/internal/service"
	"github.com/MereWhiplash/embedsync/internal/storage"
)

// App holds the wired dependencies of one process
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   storage.Storage
	Metrics *metrics.Metrics
	Service *service.Service

	redis redis.UniversalClient
}

// New validates cfg and opens every dependency it names. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	emb, err := embedder.New(cfg.Embedder.ToEmbedder())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage.ToStorage())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Metrics: metrics.New(nil),
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = lock.NewRedis(a.redis, cfg.Redis.LockPrefix, logger)
		logger.Info("using redis sync lock", "addr", cfg.Redis.Addr)
	}

	opts := cfg.Sync.Options()
	opts.Model = cfg.Embedder.Identity()
	opts.Locker = locker
	opts.Metrics = a.Metrics
	opts.Logger = logger
	a.Service = service.New(store, emb, opts)

	logger.Info("initialized",
		"storage", cfg.Storage.Driver,
		"embedder", cfg.Embedder.Provider,
		"mode", opts.Mode,
		"chunk_size", opts.ChunkSize,
		"pacing", opts.Pacing,
	)
	return a, nil
}

// Close releases storage and redis connections
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
