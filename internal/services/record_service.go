package services

import (
	"context"
	"fmt"
	"log/slog"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
	"bookkeep/internal/offline"
	"bookkeep/internal/reconcile"
	"bookkeep/internal/remote"
)

// Saver reconciles a draft with the server.
type Saver interface {
	Save(ctx context.Context, d draft.Draft) (*reconcile.Result, error)
}

// LocalQueue keeps drafts saved while offline.
type LocalQueue interface {
	Enqueue(ctx context.Context, d draft.Draft) (id string, err error)
}

// OptionRecorder learns the taxonomy values a saved record uses.
type OptionRecorder interface {
	AddCustomOption(ctx context.Context, key remote.TaxonomyKey, value string) error
}

// SaveOutcome tells the caller where a save ended up.
type SaveOutcome struct {
	Queued   bool
	OutboxID string
	Result   *reconcile.Result // nil when queued
}

// RecordService is the save entry point: it checks the offline gate on every
// call and either reconciles right away or queues the draft locally.
type RecordService struct {
	gate     offline.Gate
	saver    Saver
	queue    LocalQueue
	taxonomy OptionRecorder
}

func NewRecordService(gate offline.Gate, saver Saver, queue LocalQueue, taxonomy OptionRecorder) *RecordService {
	return &RecordService{
		gate:     gate,
		saver:    saver,
		queue:    queue,
		taxonomy: taxonomy,
	}
}

// Save stores d. A returned error means nothing was stored and d is still the
// caller's to retry.
func (s *RecordService) Save(ctx context.Context, d draft.Draft) (*SaveOutcome, error) {
	if err := d.Record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", reconcile.ErrInvalidRecord, err)
	}

	if s.gate != nil && s.gate.Offline(ctx) {
		if s.queue == nil {
			return nil, fmt.Errorf("offline and no local queue configured")
		}
		id, err := s.queue.Enqueue(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("queue record: %w", err)
		}
		s.recordOptions(ctx, d.Record)
		return &SaveOutcome{Queued: true, OutboxID: id}, nil
	}

	res, err := s.saver.Save(ctx, d)
	if err != nil {
		return nil, err
	}
	// Only values of a stored record become selectable later.
	s.recordOptions(ctx, d.Record)
	if res.Incomplete() {
		slog.WarnContext(ctx, res.Notice(), "record_id", res.Record.ID, "error", res.Err())
	}
	return &SaveOutcome{Result: res}, nil
}

func (s *RecordService) recordOptions(ctx context.Context, r core.Record) {
	if s.taxonomy == nil {
		return
	}
	for _, dim := range core.Dimensions() {
		v := r.Value(dim)
		if v == "" {
			continue
		}
		key := remote.NewTaxonomyKey(dim, r.Flow)
		if err := s.taxonomy.AddCustomOption(ctx, key, v); err != nil {
			slog.WarnContext(ctx, "Failed to record taxonomy option",
				"key", key.String(), "value", v, "error", err)
		}
	}
}
