package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bookkeep/internal/offline"
	"bookkeep/internal/reconcile"
	"bookkeep/internal/storage"
)

// Outbox is the durable queue of saves made while offline.
type Outbox interface {
	ClaimPending(ctx context.Context, limit int) ([]storage.OutboxItem, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id, lastError string) error
	MarkFailed(ctx context.Context, id, lastError string) error
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
	OutboxStats(ctx context.Context) (storage.OutboxStats, error)
	RetryFailed(ctx context.Context) (int64, error)
}

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	// PollInterval is how often to check for queued saves (default: 15s)
	PollInterval time.Duration

	// BatchSize is the max number of saves replayed per poll (default: 10)
	BatchSize int

	// MaxRetries is the number of failed persists before an item is parked (default: 5)
	MaxRetries int

	// CleanupInterval is how often completed items are purged (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before purge (default: 24h)
	CleanupAge time.Duration

	// StaleAfter is how long an item may sit in processing before it is
	// considered abandoned (default: 10m)
	StaleAfter time.Duration
}

func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval:    15 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
		StaleAfter:      10 * time.Minute,
	}
}

// OutboxProcessor replays queued saves through the reconciler once the
// client is online again.
type OutboxProcessor struct {
	outbox Outbox
	saver  Saver
	gate   offline.Gate
	config OutboxProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewOutboxProcessor(outbox Outbox, saver Saver, gate offline.Gate, config OutboxProcessorConfig) *OutboxProcessor {
	def := DefaultOutboxProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = def.CleanupAge
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = def.StaleAfter
	}
	return &OutboxProcessor{
		outbox: outbox,
		saver:  saver,
		gate:   gate,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	if n, err := p.outbox.ResetStaleProcessing(ctx, p.config.StaleAfter); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale outbox items", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "Re-queued stale outbox items", "count", n)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Outbox processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *OutboxProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// ProcessOnce replays one batch right away and returns how many items it
// handled. It does nothing while offline.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) int {
	return p.processBatch(ctx)
}

func (p *OutboxProcessor) processBatch(ctx context.Context) int {
	if p.gate != nil && p.gate.Offline(ctx) {
		slog.DebugContext(ctx, "Offline, outbox replay skipped")
		return 0
	}

	items, err := p.outbox.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to claim outbox batch", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing outbox batch", "count", len(items))

	handled := 0
	for _, item := range items {
		if p.stopping(ctx) {
			// Unhandled claims are picked up again by ResetStaleProcessing.
			break
		}

		res, err := p.saver.Save(ctx, item.Draft)
		if err != nil {
			p.handleFailure(ctx, item, err)
		} else {
			p.handleSuccess(ctx, item, res)
		}
		handled++
	}
	return handled
}

func (p *OutboxProcessor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// handleSuccess completes the item. Attachment failures do not keep it
// queued: the record exists server-side and replaying would duplicate the
// uploads that did succeed.
func (p *OutboxProcessor) handleSuccess(ctx context.Context, item storage.OutboxItem, res *reconcile.Result) {
	if res.Incomplete() {
		slog.WarnContext(ctx, "Queued save replayed with failures",
			"outbox_id", item.ID,
			"record_id", res.Record.ID,
			"notice", res.Notice(),
			"error", res.Err())
	} else {
		slog.InfoContext(ctx, "Queued save replayed",
			"outbox_id", item.ID,
			"record_id", res.Record.ID)
	}
	if err := p.outbox.MarkCompleted(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark outbox item completed",
			"outbox_id", item.ID, "error", err)
	}
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, item storage.OutboxItem, saveErr error) {
	slog.WarnContext(ctx, "Outbox replay failed",
		"outbox_id", item.ID,
		"attempt", item.Attempts+1,
		"error", saveErr)

	permanent := errors.Is(saveErr, reconcile.ErrInvalidRecord)
	if permanent || item.Attempts+1 >= p.config.MaxRetries {
		if err := p.outbox.MarkFailed(ctx, item.ID, saveErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark outbox item failed",
				"outbox_id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Outbox item failed permanently",
			"outbox_id", item.ID,
			"attempts", item.Attempts+1,
			"invalid", permanent)
		return
	}

	if err := p.outbox.MarkRetry(ctx, item.ID, saveErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to schedule outbox retry",
			"outbox_id", item.ID, "error", err)
	}
}

func (p *OutboxProcessor) cleanupCompleted(ctx context.Context) {
	n, err := p.outbox.CleanupCompleted(ctx, p.config.CleanupAge)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed outbox items", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up completed outbox items", "count", n)
	}
}

func (p *OutboxProcessor) Stats(ctx context.Context) (storage.OutboxStats, error) {
	return p.outbox.OutboxStats(ctx)
}

// RetryFailed re-queues parked items and returns how many there were.
func (p *OutboxProcessor) RetryFailed(ctx context.Context) (int64, error) {
	return p.outbox.RetryFailed(ctx)
}
