package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookkeep/internal/backend"
	"bookkeep/internal/cache"
	"bookkeep/internal/config"
	"bookkeep/internal/imagecache"
	blog "bookkeep/internal/log"
	"bookkeep/internal/offline"
	"bookkeep/internal/reconcile"
	"bookkeep/internal/services"
	"bookkeep/internal/storage"
	"bookkeep/internal/taxonomy"
	"bookkeep/internal/worker"
)

// App is the wired sync core shared by both binaries.
type App struct {
	Config     *config.Config
	Logger     *blog.Logger
	Repo       *storage.SQLiteRepository
	Gate       *offline.SettingsGate
	Backend    *backend.BackendResult
	Taxonomy   *taxonomy.Cache
	Images     *imagecache.Cache
	Reconciler *reconcile.Reconciler
	Records    *services.RecordService
	Outbox     *services.OutboxProcessor
	Refresher  *worker.TaxonomyRefresher
	Caches     *cache.Manager
}

// NewApp opens local state and builds the remote collaborators. Call Close
// when done.
func NewApp(ctx context.Context, cfg *config.Config, logger *blog.Logger, opts ...reconcile.Option) (*App, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}
	be, err := backend.NewFactory(logger.WithComponent(blog.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Repo:    repo,
		Gate:    offline.NewSettingsGate(repo),
		Backend: be,
		Caches:  cache.NewManager(),
	}

	app.Taxonomy = taxonomy.New(repo, be.Taxonomy, app.Gate)
	if err := app.Taxonomy.Init(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	app.Images, err = imagecache.New(cfg.ImageCacheDir, be.Attachments, imagecache.Options{
		MemoryItems:         cfg.ImageCacheMemoryItems,
		MemoryBytes:         cfg.ImageCacheMemoryBytes,
		MemoryTTL:           cfg.ImageCacheMemoryTTL,
		PrefetchConcurrency: cfg.ImagePrefetchConcurrency,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open image cache: %w", err)
	}
	app.Caches.Register(app.Images)

	if be.Notifier != nil {
		opts = append(opts, reconcile.WithNotifier(be.Notifier))
	}
	app.Reconciler = reconcile.New(be.Remote, app.Images, opts...)
	app.Records = services.NewRecordService(app.Gate, app.Reconciler, repo, app.Taxonomy)
	app.Outbox = services.NewOutboxProcessor(repo, app.Reconciler, app.Gate, services.OutboxProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
	})
	app.Refresher = worker.NewTaxonomyRefresher(app.Taxonomy, repo, cfg.BookID, cfg.TaxonomyRefreshInterval)

	return app, nil
}

// StartCacheCleanup periodically drops expired in-memory image bytes until
// ctx ends or Caches.Stop is called.
func (a *App) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	a.Caches.Start(ctx, interval)
}

// Close releases remote clients and the local store. Safe to call on a
// partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
