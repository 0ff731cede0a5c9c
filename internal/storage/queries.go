package storage

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Taxonomy

type TaxonomyRow struct {
	Dimension string
	Scope     string
	Value     string
}

const listTaxonomy = `SELECT dimension, scope, value FROM taxonomy_values ORDER BY dimension, scope, position`

func (q *Queries) ListTaxonomy(ctx context.Context) ([]TaxonomyRow, error) {
	rows, err := q.db.QueryContext(ctx, listTaxonomy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TaxonomyRow
	for rows.Next() {
		var i TaxonomyRow
		if err := rows.Scan(&i.Dimension, &i.Scope, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteTaxonomyKey = `DELETE FROM taxonomy_values WHERE dimension = ? AND scope = ?`

func (q *Queries) DeleteTaxonomyKey(ctx context.Context, dimension, scope string) error {
	_, err := q.db.ExecContext(ctx, deleteTaxonomyKey, dimension, scope)
	return err
}

const insertTaxonomyValue = `INSERT INTO taxonomy_values (dimension, scope, position, value) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertTaxonomyValue(ctx context.Context, dimension, scope string, position int, value string) error {
	_, err := q.db.ExecContext(ctx, insertTaxonomyValue, dimension, scope, position, value)
	return err
}

// Settings

const getSetting = `SELECT value FROM settings WHERE key = ?`

func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := q.db.QueryRowContext(ctx, getSetting, key).Scan(&v)
	return v, err
}

const putSetting = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) PutSetting(ctx context.Context, key, value string, now int64) error {
	_, err := q.db.ExecContext(ctx, putSetting, key, value, now)
	return err
}

// Outbox

type OutboxRow struct {
	ID             string
	RecordJSON     string
	PendingDeletes string
	Status         string
	Attempts       int64
	LastError      string
	CreatedAt      int64
	UpdatedAt      int64
}

type OutboxImageRow struct {
	OutboxID    string
	Position    int64
	LocalID     string
	URI         string
	FileName    string
	ContentType string
	Path        string
	Data        []byte
}

const insertOutbox = `INSERT INTO outbox (id, record_json, pending_deletes, status, attempts, last_error, created_at, updated_at)
VALUES (?, ?, ?, 'pending', 0, '', ?, ?)`

func (q *Queries) InsertOutbox(ctx context.Context, id, recordJSON, pendingDeletes string, now int64) error {
	_, err := q.db.ExecContext(ctx, insertOutbox, id, recordJSON, pendingDeletes, now, now)
	return err
}

const insertOutboxImage = `INSERT INTO outbox_images (outbox_id, position, local_id, uri, file_name, content_type, path, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertOutboxImage(ctx context.Context, arg OutboxImageRow) error {
	_, err := q.db.ExecContext(ctx, insertOutboxImage,
		arg.OutboxID, arg.Position, arg.LocalID, arg.URI, arg.FileName, arg.ContentType, arg.Path, arg.Data)
	return err
}

const outboxColumns = `id, record_json, pending_deletes, status, attempts, last_error, created_at, updated_at`

const getOutbox = `SELECT ` + outboxColumns + ` FROM outbox WHERE id = ?`

func (q *Queries) GetOutbox(ctx context.Context, id string) (OutboxRow, error) {
	var i OutboxRow
	err := q.db.QueryRowContext(ctx, getOutbox, id).Scan(
		&i.ID, &i.RecordJSON, &i.PendingDeletes, &i.Status, &i.Attempts, &i.LastError, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const listOutboxByStatus = `SELECT ` + outboxColumns + ` FROM outbox WHERE status = ? ORDER BY created_at, rowid LIMIT ?`

func (q *Queries) ListOutboxByStatus(ctx context.Context, status string, limit int) ([]OutboxRow, error) {
	rows, err := q.db.QueryContext(ctx, listOutboxByStatus, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxRow
	for rows.Next() {
		var i OutboxRow
		if err := rows.Scan(&i.ID, &i.RecordJSON, &i.PendingDeletes, &i.Status, &i.Attempts,
			&i.LastError, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listOutboxImages = `SELECT outbox_id, position, local_id, uri, file_name, content_type, path, data
FROM outbox_images WHERE outbox_id = ? ORDER BY position`

func (q *Queries) ListOutboxImages(ctx context.Context, outboxID string) ([]OutboxImageRow, error) {
	rows, err := q.db.QueryContext(ctx, listOutboxImages, outboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxImageRow
	for rows.Next() {
		var i OutboxImageRow
		if err := rows.Scan(&i.OutboxID, &i.Position, &i.LocalID, &i.URI, &i.FileName,
			&i.ContentType, &i.Path, &i.Data); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const setOutboxStatus = `UPDATE outbox SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetOutboxStatus(ctx context.Context, id, status, lastError string, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, setOutboxStatus, status, lastError, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const retryOutbox = `UPDATE outbox SET status = 'pending', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`

func (q *Queries) RetryOutbox(ctx context.Context, id, lastError string, now int64) error {
	_, err := q.db.ExecContext(ctx, retryOutbox, lastError, now, id)
	return err
}

const failOutbox = `UPDATE outbox SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`

func (q *Queries) FailOutbox(ctx context.Context, id, lastError string, now int64) error {
	_, err := q.db.ExecContext(ctx, failOutbox, lastError, now, id)
	return err
}

const resetStaleProcessing = `UPDATE outbox SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`

func (q *Queries) ResetStaleProcessing(ctx context.Context, now, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, resetStaleProcessing, now, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const resetFailed = `UPDATE outbox SET status = 'pending', attempts = 0, updated_at = ? WHERE status = 'failed'`

func (q *Queries) ResetFailed(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, resetFailed, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteCompletedImages = `DELETE FROM outbox_images WHERE outbox_id IN (
    SELECT id FROM outbox WHERE status = 'completed' AND updated_at < ?)`

func (q *Queries) DeleteCompletedImages(ctx context.Context, before int64) error {
	_, err := q.db.ExecContext(ctx, deleteCompletedImages, before)
	return err
}

const deleteCompleted = `DELETE FROM outbox WHERE status = 'completed' AND updated_at < ?`

func (q *Queries) DeleteCompleted(ctx context.Context, before int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCompleted, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countOutboxByStatus = `SELECT status, COUNT(*) FROM outbox GROUP BY status`

func (q *Queries) CountOutboxByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, countOutboxByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[strings.TrimSpace(status)] = n
	}
	return out, rows.Err()
}
