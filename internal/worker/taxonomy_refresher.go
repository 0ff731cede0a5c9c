package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// LastRefreshKey is the settings row holding the time of the last refresh.
const LastRefreshKey = "taxonomy_last_refresh"

// Refresher is the taxonomy cache as seen by the worker.
type Refresher interface {
	RefreshAll(ctx context.Context, bookID int64)
}

// Settings persists the last refresh time across restarts.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// TaxonomyRefresher keeps the taxonomy cache warm in the background. The
// cache consults the offline gate itself, so a refresh while offline is a
// cheap no-op.
type TaxonomyRefresher struct {
	cache    Refresher
	settings Settings
	bookID   int64
	interval time.Duration
	now      func() time.Time
}

func NewTaxonomyRefresher(cache Refresher, settings Settings, bookID int64, interval time.Duration) *TaxonomyRefresher {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &TaxonomyRefresher{
		cache:    cache,
		settings: settings,
		bookID:   bookID,
		interval: interval,
		now:      time.Now,
	}
}

// Run refreshes on start when the last refresh is older than the interval,
// then on every tick until ctx ends.
func (w *TaxonomyRefresher) Run(ctx context.Context) {
	if w.Due(ctx) {
		w.RefreshNow(ctx)
	} else {
		slog.InfoContext(ctx, "Taxonomy cache is fresh, skipping startup refresh")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RefreshNow(ctx)
		}
	}
}

// RefreshNow refreshes every taxonomy key and records the time.
func (w *TaxonomyRefresher) RefreshNow(ctx context.Context) {
	start := w.now()
	w.cache.RefreshAll(ctx, w.bookID)
	if ctx.Err() != nil {
		return
	}

	if w.settings != nil {
		ts := strconv.FormatInt(start.Unix(), 10)
		if err := w.settings.PutSetting(ctx, LastRefreshKey, ts); err != nil {
			slog.WarnContext(ctx, "Failed to record taxonomy refresh time", "error", err)
		}
	}
	slog.InfoContext(ctx, "Taxonomy cache refreshed",
		"book_id", w.bookID,
		"duration", w.now().Sub(start).Round(time.Millisecond))
}

// Due reports whether the last refresh is older than the interval. Unknown
// or unreadable times count as due.
func (w *TaxonomyRefresher) Due(ctx context.Context) bool {
	last, err := w.LastRefresh(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Could not determine last taxonomy refresh", "error", err)
		return true
	}
	return last.IsZero() || w.now().Sub(last) >= w.interval
}

// LastRefresh returns the recorded refresh time, zero if never.
func (w *TaxonomyRefresher) LastRefresh(ctx context.Context) (time.Time, error) {
	if w.settings == nil {
		return time.Time{}, nil
	}
	v, ok, err := w.settings.GetSetting(ctx, LastRefreshKey)
	if err != nil || !ok {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", LastRefreshKey, v, err)
	}
	return time.Unix(sec, 0), nil
}
