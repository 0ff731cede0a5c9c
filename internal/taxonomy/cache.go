// Package taxonomy keeps the selectable values for each record dimension
// (category per flow type, payment method, attribution). Values are seeded
// from defaults, enriched by the server and by user-entered custom options,
// and persisted so a cold start sees them without network access.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"bookkeep/internal/offline"
	"bookkeep/internal/remote"
)

// Key addresses one ordered value list.
type Key = remote.TaxonomyKey

var (
	ErrRemoteFetchFailed = errors.New("taxonomy remote fetch failed")
	ErrEmptyValue        = errors.New("empty taxonomy value")
)

// Store persists value lists.
type Store interface {
	LoadTaxonomy(ctx context.Context) (map[Key][]string, error)
	SaveTaxonomy(ctx context.Context, key Key, values []string) error
}

// Cache is the process-wide taxonomy cache. Writers only ever merge or
// prepend; existing values are never dropped or reordered.
type Cache struct {
	store    Store
	source   remote.TaxonomySource
	gate     offline.Gate
	defaults map[Key][]string

	mu      sync.RWMutex
	entries map[Key][]string
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaults overrides the seed values.
func WithDefaults(d map[Key][]string) Option {
	return func(c *Cache) { c.defaults = d }
}

// New creates a cache. source may be nil when the client never talks to a
// server; gate may be nil to mean always online.
func New(store Store, source remote.TaxonomySource, gate offline.Gate, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		source:   source,
		gate:     gate,
		defaults: Defaults(),
		entries:  make(map[Key][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init loads persisted entries and seeds defaults for keys never seen before.
func (c *Cache) Init(ctx context.Context) error {
	loaded, err := c.store.LoadTaxonomy(ctx)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}

	c.mu.Lock()
	for k, v := range loaded {
		c.entries[k] = dedupe(v)
	}
	var seeds []Key
	for k, v := range c.defaults {
		if len(c.entries[k]) > 0 {
			continue
		}
		c.entries[k] = dedupe(v)
		seeds = append(seeds, k)
	}
	c.mu.Unlock()

	for _, k := range seeds {
		if err := c.persist(ctx, k); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Taxonomy cache initialized", "entries", len(loaded), "seeded", len(seeds))
	return nil
}

// Cached returns the cached values without any remote call.
func (c *Cache) Cached(key Key) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries[key])
}

// Get returns the best known values for key. When online, the server's values
// are merged in first; when offline, or when the fetch fails, the cached list
// is authoritative.
func (c *Cache) Get(ctx context.Context, bookID int64, key Key) []string {
	if c.source == nil || (c.gate != nil && c.gate.Offline(ctx)) {
		return c.Cached(key)
	}

	values, err := c.source.FetchCategoryValues(ctx, bookID, key)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRemoteFetchFailed, key, err)
		slog.WarnContext(ctx, "Using cached taxonomy values", "key", key.String(), "error", err)
		return c.Cached(key)
	}
	if err := c.Merge(ctx, key, values); err != nil {
		slog.WarnContext(ctx, "Failed to persist merged taxonomy", "key", key.String(), "error", err)
	}
	return c.Cached(key)
}

// RefreshAll runs Get for every tracked key.
func (c *Cache) RefreshAll(ctx context.Context, bookID int64) {
	for _, k := range c.keys() {
		if ctx.Err() != nil {
			return
		}
		c.Get(ctx, bookID, k)
	}
}

// Merge appends server values missing from the cached list, keeping the
// existing order. Matching is exact and case sensitive. Merging the same
// values again changes nothing.
func (c *Cache) Merge(ctx context.Context, key Key, serverValues []string) error {
	c.mu.Lock()
	current := c.entries[key]
	merged := slices.Clone(current)
	for _, v := range serverValues {
		if blank(v) || slices.Contains(merged, v) {
			continue
		}
		merged = append(merged, v)
	}
	changed := len(merged) != len(current)
	if changed {
		c.entries[key] = merged
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	return c.persist(ctx, key)
}

// AddCustomOption puts a user-entered value first when it is not known yet.
// Known values keep their position.
func (c *Cache) AddCustomOption(ctx context.Context, key Key, value string) error {
	if blank(value) {
		return ErrEmptyValue
	}

	c.mu.Lock()
	current := c.entries[key]
	if slices.Contains(current, value) {
		c.mu.Unlock()
		return nil
	}
	c.entries[key] = append([]string{value}, current...)
	c.mu.Unlock()

	slog.InfoContext(ctx, "Custom taxonomy option added", "key", key.String(), "value", value)
	return c.persist(ctx, key)
}

// WorkingList is the list an edit screen offers for a record whose current
// value may predate the cache. The current value is put first when missing;
// the cache itself is not modified.
func (c *Cache) WorkingList(key Key, current string) []string {
	list := c.Cached(key)
	if blank(current) || slices.Contains(list, current) {
		return list
	}
	return append([]string{current}, list...)
}

func (c *Cache) persist(ctx context.Context, key Key) error {
	values := c.Cached(key)
	if err := c.store.SaveTaxonomy(ctx, key, values); err != nil {
		return fmt.Errorf("save taxonomy %s: %w", key, err)
	}
	return nil
}

func (c *Cache) keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[Key]bool)
	var out []Key
	for _, k := range remote.TaxonomyKeys() {
		seen[k] = true
		out = append(out, k)
	}
	for k := range c.entries {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if blank(v) || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// blank values are never listed. Everything else is compared byte for byte,
// so " Food" and "Food" are different options.
func blank(v string) bool {
	return strings.TrimSpace(v) == ""
}
