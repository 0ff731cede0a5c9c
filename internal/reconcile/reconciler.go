// Package reconcile pushes a record draft to the server once the user saves.
//
// A save runs four steps, each waiting for the one before:
//
//  1. persist the record (create or update), which fixes its id
//  2. upload staged images against that id, one at a time, in display order
//  3. delete the uploaded attachments the user removed, evicting them locally
//  4. re-read the record for its authoritative attachment names and pre-warm
//     the image cache
//
// Only step 1 is fatal. Later failures are collected on the Result and the
// save still completes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
	"bookkeep/internal/remote"
)

// Remote is the subset of the server a save needs.
type Remote interface {
	remote.RecordWriter
	remote.AttachmentStore
	remote.RecordLister
}

// ImageCache is the local attachment cache kept in step with the server.
type ImageCache interface {
	IsImageCached(name string) bool
	CacheImages(ctx context.Context, names []string) (failed []string)
	ClearCache(name string) error
}

// Step identifies a save phase for progress reporting.
type Step int

const (
	StepPersist Step = iota + 1
	StepUpload
	StepDelete
	StepRefresh
)

func (s Step) String() string {
	switch s {
	case StepPersist:
		return "persist"
	case StepUpload:
		return "upload"
	case StepDelete:
		return "delete"
	case StepRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Event summarizes a completed save for notifiers.
type Event struct {
	RecordID int64
	BookID   int64
	Created  bool
	Uploaded int
	Deleted  int
	Failed   int
	SyncedAt time.Time
}

// Notifier is told about every completed save.
type Notifier interface {
	NotifySynced(ctx context.Context, ev Event) error
}

// Result is the outcome of a save that got past the persist step.
type Result struct {
	Record  core.Record
	Draft   draft.Draft
	Created bool

	Uploaded      []core.AttachmentRef // local refs whose upload succeeded
	Deleted       []string
	Failures      []*AttachmentError
	RefreshErr    error
	PrewarmFailed []string
}

// Incomplete reports whether any non-fatal step failed.
func (r *Result) Incomplete() bool {
	return len(r.Failures) > 0 || r.RefreshErr != nil
}

// Notice is a short user-facing message for an incomplete save, or "".
func (r *Result) Notice() string {
	switch {
	case len(r.Failures) == 1:
		return "saved, but 1 attachment failed"
	case len(r.Failures) > 1:
		return fmt.Sprintf("saved, but %d attachments failed", len(r.Failures))
	case r.RefreshErr != nil:
		return "saved, but the attachment list could not be refreshed"
	default:
		return ""
	}
}

// Err joins every non-fatal failure.
func (r *Result) Err() error {
	errs := make([]error, 0, len(r.Failures)+1)
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	if r.RefreshErr != nil {
		errs = append(errs, r.RefreshErr)
	}
	return errors.Join(errs...)
}

// Reconciler runs saves against one server.
type Reconciler struct {
	remote   Remote
	images   ImageCache
	progress func(Step)
	notifier Notifier
}

type Option func(*Reconciler)

// WithProgress registers a callback invoked as each step starts.
func WithProgress(fn func(Step)) Option {
	return func(r *Reconciler) { r.progress = fn }
}

// WithNotifier registers a notifier. Its errors are logged, never returned.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// New creates a reconciler. images may be nil when no local cache is kept.
func New(rm Remote, images ImageCache, opts ...Option) *Reconciler {
	r := &Reconciler{remote: rm, images: images}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save reconciles d with the server. A nil Result with an error means the
// record was not persisted and d should be kept as is.
func (r *Reconciler) Save(ctx context.Context, d draft.Draft) (*Result, error) {
	rec := d.Record
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	r.step(StepPersist)
	created := !rec.Persisted()
	if created {
		id, err := r.remote.CreateRecord(ctx, rec)
		if err != nil {
			return nil, &PersistError{Err: err}
		}
		rec.ID = id
	} else if err := r.remote.UpdateRecord(ctx, rec); err != nil {
		return nil, &PersistError{RecordID: rec.ID, Err: err}
	}

	res := &Result{Created: created}

	r.step(StepUpload)
	for _, s := range d.Staged() {
		if err := r.upload(ctx, rec, s); err != nil {
			slog.WarnContext(ctx, "Attachment upload failed",
				"record_id", rec.ID, "local_id", s.Ref.LocalID, "error", err)
			res.Failures = append(res.Failures, &AttachmentError{Op: opUpload, Name: uploadName(s), Err: err})
			continue
		}
		res.Uploaded = append(res.Uploaded, s.Ref)
	}

	r.step(StepDelete)
	for _, name := range d.PendingDeletes() {
		if _, err := r.remote.DeleteAttachment(ctx, rec.ID, rec.BookID, name); err != nil {
			slog.WarnContext(ctx, "Attachment delete failed",
				"record_id", rec.ID, "name", name, "error", err)
			res.Failures = append(res.Failures, &AttachmentError{Op: opDelete, Name: name, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, name)
		r.evict(ctx, name)
	}

	r.step(StepRefresh)
	saved := rec
	names, err := r.refresh(ctx, rec)
	if err != nil {
		slog.WarnContext(ctx, "Attachment list refresh failed", "record_id", rec.ID, "error", err)
		res.RefreshErr = err
		saved.Attachments = slices.DeleteFunc(slices.Clone(rec.Attachments), func(n string) bool {
			return slices.Contains(res.Deleted, n)
		})
	} else {
		saved.Attachments = names
		res.PrewarmFailed = r.prewarm(ctx, names)
	}

	res.Record = saved
	res.Draft = d.Commit(saved)

	slog.InfoContext(ctx, "Record synced",
		"record_id", saved.ID,
		"created", created,
		"uploaded", len(res.Uploaded),
		"deleted", len(res.Deleted),
		"failed", len(res.Failures))

	r.notify(ctx, saved, res)
	return res, nil
}

func (r *Reconciler) upload(ctx context.Context, rec core.Record, s draft.StagedAttachment) error {
	body, err := s.Image.Open()
	if err != nil {
		return err
	}
	defer body.Close()

	status, err := r.remote.UploadAttachment(ctx, rec.ID, rec.BookID, remote.Upload{
		FileName:    uploadName(s),
		ContentType: s.Image.ContentType,
		Body:        body,
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Attachment uploaded", "record_id", rec.ID, "status", status)
	return nil
}

func (r *Reconciler) refresh(ctx context.Context, rec core.Record) ([]string, error) {
	recs, err := r.remote.ListRecordsByFilter(ctx, remote.Filter{BookID: rec.BookID, RecordID: rec.ID})
	if err != nil {
		return nil, err
	}
	for _, got := range recs {
		if got.ID == rec.ID {
			return slices.Clone(got.Attachments), nil
		}
	}
	return nil, fmt.Errorf("record %d missing from server listing", rec.ID)
}

func (r *Reconciler) evict(ctx context.Context, name string) {
	if r.images == nil {
		return
	}
	if err := r.images.ClearCache(name); err != nil {
		slog.WarnContext(ctx, "Failed to evict cached image", "name", name, "error", err)
	}
}

func (r *Reconciler) prewarm(ctx context.Context, names []string) []string {
	if r.images == nil {
		return nil
	}
	var missing []string
	for _, n := range names {
		if !r.images.IsImageCached(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return r.images.CacheImages(ctx, missing)
}

func (r *Reconciler) notify(ctx context.Context, saved core.Record, res *Result) {
	if r.notifier == nil {
		return
	}
	ev := Event{
		RecordID: saved.ID,
		BookID:   saved.BookID,
		Created:  res.Created,
		Uploaded: len(res.Uploaded),
		Deleted:  len(res.Deleted),
		Failed:   len(res.Failures),
		SyncedAt: time.Now().UTC(),
	}
	if err := r.notifier.NotifySynced(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync notification", "record_id", saved.ID, "error", err)
	}
}

func (r *Reconciler) step(s Step) {
	if r.progress != nil {
		r.progress(s)
	}
}

func uploadName(s draft.StagedAttachment) string {
	if s.Image.FileName != "" {
		return s.Image.FileName
	}
	return s.Ref.LocalID
}
