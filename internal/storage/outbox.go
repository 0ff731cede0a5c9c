package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
)

// Outbox statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var ErrOutboxItemNotFound = errors.New("outbox item not found")

// OutboxItem is a save queued while offline.
type OutboxItem struct {
	ID        string
	Draft     draft.Draft
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutboxStats counts items per status.
type OutboxStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

func (s OutboxStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// recordSnapshot is the stored form of a draft's scalar fields.
type recordSnapshot struct {
	ID            int64    `json:"id"`
	BookID        int64    `json:"book_id"`
	Flow          string   `json:"flow"`
	AmountCents   int64    `json:"amount_cents"`
	Category      string   `json:"category"`
	PaymentMethod string   `json:"payment_method"`
	Attribution   string   `json:"attribution"`
	Note          string   `json:"note"`
	Date          string   `json:"date"`
	Attachments   []string `json:"attachments"`
}

func snapshotOf(r core.Record) recordSnapshot {
	return recordSnapshot{
		ID:            r.ID,
		BookID:        r.BookID,
		Flow:          string(r.Flow),
		AmountCents:   r.Amount.Cents,
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
		Attribution:   r.Attribution,
		Note:          r.Note,
		Date:          r.Date.String(),
		Attachments:   r.Attachments,
	}
}

func (s recordSnapshot) record() (core.Record, error) {
	r := core.Record{
		ID:            s.ID,
		BookID:        s.BookID,
		Flow:          core.FlowType(s.Flow),
		Amount:        core.Money{Cents: s.AmountCents},
		Category:      s.Category,
		PaymentMethod: s.PaymentMethod,
		Attribution:   s.Attribution,
		Note:          s.Note,
		Attachments:   s.Attachments,
	}
	if s.Date != "" {
		d, err := core.ParseDate(s.Date)
		if err != nil {
			return core.Record{}, err
		}
		r.Date = d
	}
	return r, nil
}

// Enqueue stores a draft, staged images included, for a later replay.
func (r *SQLiteRepository) Enqueue(ctx context.Context, d draft.Draft) (string, error) {
	recJSON, err := json.Marshal(snapshotOf(d.Record))
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	deletes := d.PendingDeletes()
	if deletes == nil {
		deletes = []string{}
	}
	delJSON, err := json.Marshal(deletes)
	if err != nil {
		return "", fmt.Errorf("encode pending deletes: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()
	staged := d.Staged()

	err = r.withTx(ctx, func(q *Queries) error {
		if err := q.InsertOutbox(ctx, id, string(recJSON), string(delJSON), now); err != nil {
			return fmt.Errorf("insert outbox item: %w", err)
		}
		for i, s := range staged {
			err := q.InsertOutboxImage(ctx, OutboxImageRow{
				OutboxID:    id,
				Position:    int64(i),
				LocalID:     s.Ref.LocalID,
				URI:         s.Ref.URI,
				FileName:    s.Image.FileName,
				ContentType: s.Image.ContentType,
				Path:        s.Image.Path,
				Data:        s.Image.Data,
			})
			if err != nil {
				return fmt.Errorf("insert outbox image %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Save queued in outbox",
		"outbox_id", id,
		"record_id", d.Record.ID,
		"staged", len(staged),
		"pending_deletes", len(deletes))
	return id, nil
}

// ClaimPending moves up to limit pending items to processing, oldest first,
// and returns them.
func (r *SQLiteRepository) ClaimPending(ctx context.Context, limit int) ([]OutboxItem, error) {
	var rows []OutboxRow
	err := r.withTx(ctx, func(q *Queries) error {
		var err error
		rows, err = q.ListOutboxByStatus(ctx, StatusPending, limit)
		if err != nil {
			return fmt.Errorf("list pending outbox: %w", err)
		}
		now := time.Now().UnixMilli()
		for i := range rows {
			if _, err := q.SetOutboxStatus(ctx, rows[i].ID, StatusProcessing, rows[i].LastError, now); err != nil {
				return fmt.Errorf("claim outbox item %s: %w", rows[i].ID, err)
			}
			rows[i].Status = StatusProcessing
			rows[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	items := make([]OutboxItem, 0, len(rows))
	for _, row := range rows {
		item, err := r.loadItem(ctx, row)
		if err != nil {
			// A corrupt snapshot would block the queue forever.
			slog.ErrorContext(ctx, "Dropping unreadable outbox item", "outbox_id", row.ID, "error", err)
			_ = r.MarkFailed(ctx, row.ID, err.Error())
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetOutboxItem returns one item by id.
func (r *SQLiteRepository) GetOutboxItem(ctx context.Context, id string) (*OutboxItem, error) {
	row, err := r.queries.GetOutbox(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOutboxItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox item: %w", err)
	}
	item, err := r.loadItem(ctx, row)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string) error {
	n, err := r.queries.SetOutboxStatus(ctx, id, StatusCompleted, "", time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark outbox item completed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrOutboxItemNotFound, id)
	}
	return nil
}

// MarkRetry counts a failed attempt and puts the item back in the queue.
func (r *SQLiteRepository) MarkRetry(ctx context.Context, id, lastError string) error {
	if err := r.queries.RetryOutbox(ctx, id, lastError, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark outbox item for retry: %w", err)
	}
	return nil
}

// MarkFailed counts a failed attempt and parks the item until RetryFailed.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	if err := r.queries.FailOutbox(ctx, id, lastError, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark outbox item failed: %w", err)
	}
	slog.WarnContext(ctx, "Outbox item marked failed", "outbox_id", id, "error", lastError)
	return nil
}

// ResetStaleProcessing returns items stuck in processing for longer than
// olderThan to the queue, e.g. after a crash mid-replay.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	n, err := r.queries.ResetStaleProcessing(ctx, now.UnixMilli(), now.Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reset stale outbox items: %w", err)
	}
	return n, nil
}

// CleanupCompleted deletes completed items older than olderThan.
func (r *SQLiteRepository) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	before := time.Now().Add(-olderThan).UnixMilli()
	var n int64
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteCompletedImages(ctx, before); err != nil {
			return fmt.Errorf("delete completed outbox images: %w", err)
		}
		var err error
		n, err = q.DeleteCompleted(ctx, before)
		if err != nil {
			return fmt.Errorf("delete completed outbox items: %w", err)
		}
		return nil
	})
	return n, err
}

func (r *SQLiteRepository) OutboxStats(ctx context.Context) (OutboxStats, error) {
	counts, err := r.queries.CountOutboxByStatus(ctx)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("count outbox items: %w", err)
	}
	return OutboxStats{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Completed:  counts[StatusCompleted],
		Failed:     counts[StatusFailed],
	}, nil
}

// RetryFailed re-queues every failed item with a fresh attempt budget.
func (r *SQLiteRepository) RetryFailed(ctx context.Context) (int64, error) {
	n, err := r.queries.ResetFailed(ctx, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("retry failed outbox items: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) loadItem(ctx context.Context, row OutboxRow) (OutboxItem, error) {
	var snap recordSnapshot
	if err := json.Unmarshal([]byte(row.RecordJSON), &snap); err != nil {
		return OutboxItem{}, fmt.Errorf("decode outbox record %s: %w", row.ID, err)
	}
	rec, err := snap.record()
	if err != nil {
		return OutboxItem{}, fmt.Errorf("decode outbox record %s: %w", row.ID, err)
	}
	var deletes []string
	if err := json.Unmarshal([]byte(row.PendingDeletes), &deletes); err != nil {
		return OutboxItem{}, fmt.Errorf("decode outbox deletes %s: %w", row.ID, err)
	}

	imgs, err := r.queries.ListOutboxImages(ctx, row.ID)
	if err != nil {
		return OutboxItem{}, fmt.Errorf("list outbox images %s: %w", row.ID, err)
	}
	staged := make([]draft.StagedAttachment, 0, len(imgs))
	for _, img := range imgs {
		staged = append(staged, draft.StagedAttachment{
			Ref: core.Local(img.LocalID, img.URI),
			Image: draft.Image{
				FileName:    img.FileName,
				ContentType: img.ContentType,
				URI:         img.URI,
				Path:        img.Path,
				Data:        img.Data,
			},
		})
	}

	return OutboxItem{
		ID:        row.ID,
		Draft:     draft.Restore(rec, staged, deletes),
		Status:    row.Status,
		Attempts:  int(row.Attempts),
		LastError: row.LastError,
		CreatedAt: time.UnixMilli(row.CreatedAt),
		UpdatedAt: time.UnixMilli(row.UpdatedAt),
	}, nil
}
