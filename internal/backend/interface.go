package backend

import (
	"context"

	"bookkeep/internal/reconcile"
	"bookkeep/internal/remote"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the remote collaborators of the sync core. Taxonomy
// and Attachments default to the Remote itself unless another source is
// configured; Notifier is nil when no broker is configured.
type BackendResult struct {
	Remote      reconcile.Remote
	Taxonomy    remote.TaxonomySource
	Attachments remote.AttachmentFetcher
	Notifier    reconcile.Notifier
	Cleanup     CleanupFunc
}

// Close runs Cleanup if set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType selects the record server adapter.
type BackendType string

const (
	RESTBackend   BackendType = "rest"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case RESTBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
