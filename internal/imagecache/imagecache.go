// Package imagecache materializes server attachments on local disk so they can
// be displayed without a network round trip. Entries are keyed by the
// server's attachment name and stored under a content-addressed file name.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bookkeep/internal/cache"
	"bookkeep/internal/remote"
)

var ErrMaterializeFailed = errors.New("image materialize failed")

// Options tunes the in-memory byte layer and batch prefetching.
type Options struct {
	MemoryItems         int
	MemoryBytes         int64
	MemoryTTL           time.Duration
	PrefetchConcurrency int
}

func DefaultOptions() Options {
	return Options{
		MemoryItems:         32,
		MemoryBytes:         32 << 20,
		MemoryTTL:           10 * time.Minute,
		PrefetchConcurrency: 4,
	}
}

type entry struct {
	path  string
	ready bool
}

// Cache is the process-wide image cache. Files on disk are never evicted
// implicitly; only ClearCache and Clear remove them.
type Cache struct {
	dir         string
	fetcher     remote.AttachmentFetcher
	hot         *cache.LRU[[]byte]
	concurrency int
	group       singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

var _ cache.Cleaner = (*Cache)(nil)

// New creates a cache rooted at dir. Files left by a previous session are
// picked up lazily as ready entries.
func New(dir string, fetcher remote.AttachmentFetcher, opts Options) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache directory: %w", err)
	}
	def := DefaultOptions()
	if opts.MemoryItems <= 0 {
		opts.MemoryItems = def.MemoryItems
	}
	if opts.MemoryBytes <= 0 {
		opts.MemoryBytes = def.MemoryBytes
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = def.MemoryTTL
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = def.PrefetchConcurrency
	}
	return &Cache{
		dir:         dir,
		fetcher:     fetcher,
		hot:         cache.NewLRU[[]byte](opts.MemoryItems, opts.MemoryTTL,
			cache.WithMaxCost[[]byte](opts.MemoryBytes, cache.ByteLen)),
		concurrency: opts.PrefetchConcurrency,
		entries:     make(map[string]*entry),
	}, nil
}

// ImageURL returns a stable local URL for name whether or not the bytes have
// been materialized yet. Use IsImageCached to drive loading indicators.
func (c *Cache) ImageURL(name string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(c.pathFor(name))}
	return u.String()
}

// IsImageCached is a synchronous best-effort check.
func (c *Cache) IsImageCached(name string) bool {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && e.ready {
		return true
	}

	p := c.pathFor(name)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		c.markReady(name, p)
		return true
	}
	return false
}

// CacheImage materializes name locally if absent. Redundant calls are cache
// hits, and concurrent calls for the same name share one download.
func (c *Cache) CacheImage(ctx context.Context, name string) error {
	if c.IsImageCached(name) {
		return nil
	}
	_, err, _ := c.group.Do(name, func() (any, error) {
		if c.IsImageCached(name) {
			return nil, nil
		}
		return nil, c.materialize(ctx, name)
	})
	return err
}

// CacheImages materializes a batch. Individual failures are logged and
// returned as the failed names; they never stop the rest of the batch.
func (c *Cache) CacheImages(ctx context.Context, names []string) []string {
	failed := make([]bool, len(names))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := c.CacheImage(ctx, name); err != nil {
				slog.WarnContext(ctx, "Failed to cache image", "name", name, "error", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for i, f := range failed {
		if f {
			out = append(out, names[i])
		}
	}
	return out
}

// Bytes returns the image content, from memory, disk or the server in that
// order.
func (c *Cache) Bytes(ctx context.Context, name string) ([]byte, error) {
	if b, ok := c.hot.Get(name); ok {
		return b, nil
	}
	if err := c.CacheImage(ctx, name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.pathFor(name))
	if err != nil {
		return nil, fmt.Errorf("read cached image %s: %w", name, err)
	}
	c.hot.Set(name, b)
	return b, nil
}

// ClearCache evicts one entry, used after the server deleted the attachment
// so a stale image is never shown for that name again.
func (c *Cache) ClearCache(name string) error {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	c.hot.Delete(name)

	if err := os.Remove(c.pathFor(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cached image %s: %w", name, err)
	}
	return nil
}

// Clear removes every cached image.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	c.hot.Purge()

	des, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read image cache directory: %w", err)
	}
	var errs []error
	for _, de := range des {
		if de.Type().IsRegular() {
			if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MemoryStats reports the in-memory byte layer.
func (c *Cache) MemoryStats() cache.Stats {
	return c.hot.Stats()
}

// CleanExpired drops expired in-memory bytes; disk entries are untouched.
func (c *Cache) CleanExpired() int {
	return c.hot.CleanExpired()
}

func (c *Cache) materialize(ctx context.Context, name string) error {
	if c.fetcher == nil {
		return fmt.Errorf("%w: %s: no attachment source configured", ErrMaterializeFailed, name)
	}
	rc, err := c.fetcher.FetchAttachment(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMaterializeFailed, name, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(c.dir, ".part-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMaterializeFailed, name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrMaterializeFailed, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMaterializeFailed, name, err)
	}

	p := c.pathFor(name)
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMaterializeFailed, name, err)
	}
	c.markReady(name, p)

	slog.DebugContext(ctx, "Image cached", "name", name, "path", p)
	return nil
}

func (c *Cache) markReady(name, p string) {
	c.mu.Lock()
	c.entries[name] = &entry{path: p, ready: true}
	c.mu.Unlock()
}

// pathFor derives the on-disk file for name. Server names are opaque, so the
// file is addressed by their hash; the extension is kept for viewers.
func (c *Cache) pathFor(name string) string {
	sum := sha256.Sum256([]byte(name))
	ext := strings.ToLower(path.Ext(name))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+ext)
}
