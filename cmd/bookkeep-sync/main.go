package main

import (
	"context"
	"os"
	"sync"
	"time"

	"bookkeep/internal/cli"
	blog "bookkeep/internal/log"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), blog.ComponentSync)
	logger.Info("Starting bookkeep-sync")

	cfg := cli.LoadAndValidateConfig(logger)

	app, err := cli.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize sync core", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		logger.Info("Shutting down sync services...")
		if err := app.Outbox.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop outbox processor", "error", err)
		}
		app.Caches.Stop()
		wg.Wait()
	})

	app.StartCacheCleanup(ctx, cacheCleanupInterval)

	if err := app.Outbox.Start(ctx); err != nil {
		logger.Error("Failed to start outbox processor", "error", err)
		os.Exit(1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Refresher.Run(ctx)
	}()

	logger.Info("bookkeep-sync running",
		blog.FieldBookID, cfg.BookID,
		blog.FieldBackend, cfg.DataBackend,
		"events", cfg.AMQPURL != "",
		"poll_interval", cfg.OutboxPollInterval,
		"taxonomy_refresh", cfg.TaxonomyRefreshInterval)

	logStartupQueue(ctx, app, logger)

	cli.WaitForShutdown(ctx, done)
}

func logStartupQueue(ctx context.Context, app *cli.App, logger *blog.Logger) {
	stats, err := app.Outbox.Stats(ctx)
	logger.Op(ctx, blog.OpStartup, err,
		"pending", stats.Pending,
		"failed", stats.Failed,
		"offline", app.Gate.Offline(ctx))
	if stats.Failed > 0 {
		logger.Warn("Outbox has parked saves; run `bookkeep outbox retry` to re-queue them",
			blog.FieldCount, stats.Failed)
	}
}
