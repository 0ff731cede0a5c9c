// Package storage is the client's local SQLite database: the taxonomy cache,
// settings (including the offline flag) and the outbox of saves made while
// offline.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bookkeep/internal/core"
	"bookkeep/internal/offline"
	"bookkeep/internal/remote"
	"bookkeep/internal/taxonomy"
)

var (
	_ taxonomy.Store        = (*SQLiteRepository)(nil)
	_ offline.SettingsStore = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The CLI, refresher and outbox processor share the file; one writer
	// connection keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// LoadTaxonomy implements taxonomy.Store.
func (r *SQLiteRepository) LoadTaxonomy(ctx context.Context) (map[remote.TaxonomyKey][]string, error) {
	rows, err := r.queries.ListTaxonomy(ctx)
	if err != nil {
		return nil, fmt.Errorf("list taxonomy: %w", err)
	}
	out := make(map[remote.TaxonomyKey][]string)
	for _, row := range rows {
		dim, err := core.ParseDimension(row.Dimension)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unknown taxonomy dimension", "dimension", row.Dimension)
			continue
		}
		k := remote.NewTaxonomyKey(dim, core.FlowType(row.Scope))
		out[k] = append(out[k], row.Value)
	}
	return out, nil
}

// SaveTaxonomy implements taxonomy.Store. The stored list is replaced as a
// whole so positions always match the cache's order.
func (r *SQLiteRepository) SaveTaxonomy(ctx context.Context, key remote.TaxonomyKey, values []string) error {
	return r.withTx(ctx, func(q *Queries) error {
		dim, scope := string(key.Dimension), string(key.Scope)
		if err := q.DeleteTaxonomyKey(ctx, dim, scope); err != nil {
			return fmt.Errorf("clear taxonomy %s: %w", key, err)
		}
		for i, v := range values {
			if err := q.InsertTaxonomyValue(ctx, dim, scope, i, v); err != nil {
				return fmt.Errorf("insert taxonomy %s value %q: %w", key, v, err)
			}
		}
		slog.DebugContext(ctx, "Taxonomy saved to SQLite", "key", key.String(), "count", len(values))
		return nil
	})
}

// GetSetting implements offline.SettingsStore.
func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, err := r.queries.GetSetting(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

// PutSetting implements offline.SettingsStore.
func (r *SQLiteRepository) PutSetting(ctx context.Context, key, value string) error {
	if err := r.queries.PutSetting(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
