package services

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
	"bookkeep/internal/offline"
	"bookkeep/internal/reconcile"
	"bookkeep/internal/remote"
	"bookkeep/internal/remote/memory"
	"bookkeep/internal/storage"
	"bookkeep/internal/taxonomy"
)

type harness struct {
	gate     *offline.Flag
	server   *memory.Server
	repo     *storage.SQLiteRepository
	taxonomy *taxonomy.Cache
	service  *RecordService
	outbox   *OutboxProcessor
}

func newHarness(t *testing.T, cfg OutboxProcessorConfig) *harness {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "bookkeep.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	h := &harness{
		gate:   offline.NewFlag(false),
		server: memory.New(nil),
		repo:   repo,
	}
	h.taxonomy = taxonomy.New(repo, h.server, h.gate)
	if err := h.taxonomy.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := reconcile.New(h.server, nil)
	h.service = NewRecordService(h.gate, rec, repo, h.taxonomy)
	h.outbox = NewOutboxProcessor(repo, rec, h.gate, cfg)
	return h
}

func newDraft() draft.Draft {
	d := draft.New(core.Record{
		BookID:        1,
		Flow:          core.Expense,
		Amount:        core.Money{Cents: 4200},
		Category:      "Books",
		PaymentMethod: "Cash",
		Date:          core.NewDate(2025, 2, 14),
	})
	d, _ = d.Stage(draft.Image{FileName: "receipt.jpg", Data: []byte("jpeg")})
	return d
}

func TestSaveOnlineReconciles(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{})
	ctx := context.Background()

	out, err := h.service.Save(ctx, newDraft())
	if err != nil {
		t.Fatal(err)
	}
	if out.Queued || out.Result == nil {
		t.Fatalf("expected direct save, got %+v", out)
	}
	saved, ok := h.server.Record(out.Result.Record.ID)
	if !ok || len(saved.Attachments) != 1 {
		t.Fatalf("record not on server: %+v", saved)
	}
	if got := h.taxonomy.Cached(remote.NewTaxonomyKey(core.DimensionCategory, core.Expense)); got[0] != "Books" {
		t.Fatalf("new category not recorded first: %v", got)
	}
}

func TestSaveOfflineQueuesThenReplays(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{})
	ctx := context.Background()
	h.gate.Set(true)

	out, err := h.service.Save(ctx, newDraft())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued || out.OutboxID == "" {
		t.Fatalf("expected queued save, got %+v", out)
	}
	if calls := h.server.Calls(); len(calls) != 0 {
		t.Fatalf("offline save reached the server: %v", calls)
	}

	if n := h.outbox.ProcessOnce(ctx); n != 0 {
		t.Fatalf("replay must wait for connectivity, handled %d", n)
	}

	h.gate.Set(false)
	if n := h.outbox.ProcessOnce(ctx); n != 1 {
		t.Fatalf("expected one replayed item, got %d", n)
	}

	recs, err := h.server.ListRecordsByFilter(ctx, remote.Filter{BookID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].Attachments) != 1 {
		t.Fatalf("replay did not persist record and image: %+v", recs)
	}
	item, err := h.repo.GetOutboxItem(ctx, out.OutboxID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != storage.StatusCompleted {
		t.Fatalf("status = %s", item.Status)
	}
}

func TestReplayRetriesThenParks(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{MaxRetries: 2})
	ctx := context.Background()

	h.gate.Set(true)
	out, err := h.service.Save(ctx, newDraft())
	if err != nil {
		t.Fatal(err)
	}
	h.gate.Set(false)
	h.server.Fail(memory.OpCreate, errors.New("503"))

	h.outbox.ProcessOnce(ctx)
	item, _ := h.repo.GetOutboxItem(ctx, out.OutboxID)
	if item.Status != storage.StatusPending || item.Attempts != 1 {
		t.Fatalf("expected retry scheduled, got %+v", item)
	}
	if len(item.Draft.Staged()) != 1 {
		t.Fatal("staged image lost on retry")
	}

	h.outbox.ProcessOnce(ctx)
	item, _ = h.repo.GetOutboxItem(ctx, out.OutboxID)
	if item.Status != storage.StatusFailed || item.LastError == "" {
		t.Fatalf("expected parked item, got %+v", item)
	}

	stats, err := h.outbox.Stats(ctx)
	if err != nil || stats.Failed != 1 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}

	h.server.Fail(memory.OpCreate, nil)
	if n, err := h.outbox.RetryFailed(ctx); err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v", n, err)
	}
	h.outbox.ProcessOnce(ctx)
	item, _ = h.repo.GetOutboxItem(ctx, out.OutboxID)
	if item.Status != storage.StatusCompleted {
		t.Fatalf("expected completion after retry, got %s", item.Status)
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{})
	h.gate.Set(true)

	_, err := h.service.Save(context.Background(), draft.New(core.Record{BookID: 1}))
	if !errors.Is(err, reconcile.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	stats, _ := h.repo.OutboxStats(context.Background())
	if stats.Total() != 0 {
		t.Fatal("invalid record must not be queued")
	}
}

func TestPersistFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{})
	h.server.Fail(memory.OpCreate, errors.New("timeout"))
	d := newDraft()

	_, err := h.service.Save(context.Background(), d)
	if !errors.Is(err, reconcile.ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed, got %v", err)
	}
	if len(d.Staged()) != 1 {
		t.Fatal("caller's draft changed")
	}
	if calls := h.server.Calls(); !slices.Equal(calls, []string{memory.OpCreate}) {
		t.Fatalf("unexpected calls after persist failure: %v", calls)
	}
}

func TestTaxonomyOptionsFollowStoredSaves(t *testing.T) {
	key := remote.NewTaxonomyKey(core.DimensionCategory, core.Expense)

	tests := []struct {
		name     string
		offline  bool
		failWith error
		wantKept bool
	}{
		{name: "online save", wantKept: true},
		{name: "queued offline", offline: true, wantKept: true},
		{name: "persist failed", failWith: errors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, OutboxProcessorConfig{})
			ctx := context.Background()
			h.gate.Set(tt.offline)
			if tt.failWith != nil {
				h.server.Fail(memory.OpCreate, tt.failWith)
			}

			_, err := h.service.Save(ctx, newDraft())
			if (err != nil) == tt.wantKept {
				t.Fatalf("Save error = %v", err)
			}

			stored, err := h.repo.LoadTaxonomy(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got := slices.Contains(stored[key], "Books"); got != tt.wantKept {
				t.Errorf("Books stored = %t, want %t (stored %v)", got, tt.wantKept, stored[key])
			}
		})
	}
}

func TestOutboxProcessorLifecycle(t *testing.T) {
	h := newHarness(t, OutboxProcessorConfig{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if h.outbox.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	if err := h.outbox.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.outbox.Start(ctx); err == nil {
		t.Fatal("expected error when starting twice")
	}

	h.gate.Set(true)
	if _, err := h.service.Save(ctx, newDraft()); err != nil {
		t.Fatal(err)
	}
	h.gate.Set(false)

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, _ := h.outbox.Stats(ctx)
		if stats.Completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued save never replayed: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := h.outbox.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if h.outbox.IsRunning() {
		t.Fatal("processor still running after Stop")
	}
	if err := h.outbox.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop should be a no-op: %v", err)
	}
}

func TestDefaultOutboxProcessorConfig(t *testing.T) {
	p := NewOutboxProcessor(nil, nil, nil, OutboxProcessorConfig{})
	want := DefaultOutboxProcessorConfig()
	if p.config != want {
		t.Fatalf("zero config not defaulted: %+v", p.config)
	}
}
