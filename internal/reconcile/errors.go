package reconcile

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrPersistFailed = errors.New("persist failed")
	ErrUploadFailed  = errors.New("attachment upload failed")
	ErrDeleteFailed  = errors.New("attachment delete failed")
)

// PersistError aborts a save. Nothing after the failed create or update was
// attempted, so the caller's draft is still the full truth.
type PersistError struct {
	RecordID int64 // 0 for a create
	Err      error
}

func (e *PersistError) Error() string {
	if e.RecordID == 0 {
		return fmt.Sprintf("create record: %v", e.Err)
	}
	return fmt.Sprintf("update record %d: %v", e.RecordID, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersistFailed, e.Err} }

// AttachmentError is a non-fatal failure of one upload or delete.
type AttachmentError struct {
	Op   string // "upload" or "delete"
	Name string // file name for uploads, server name for deletes
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("%s attachment %q: %v", e.Op, e.Name, e.Err)
}

func (e *AttachmentError) Unwrap() []error {
	if e.Op == opDelete {
		return []error{ErrDeleteFailed, e.Err}
	}
	return []error{ErrUploadFailed, e.Err}
}

const (
	opUpload = "upload"
	opDelete = "delete"
)
