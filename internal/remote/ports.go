// Package remote declares the operations the sync core consumes from the
// bookkeeping server. Adapters live in sub-packages: rest (HTTP API), memory
// (in-process server), sheets (taxonomy from a spreadsheet) and gcs
// (attachment bytes from a bucket).
package remote

import (
	"context"
	"fmt"
	"io"

	"bookkeep/internal/core"
)

// Ports for outbound adapters.
type (
	RecordWriter interface {
		CreateRecord(ctx context.Context, r core.Record) (id int64, err error)
		UpdateRecord(ctx context.Context, r core.Record) error
	}

	AttachmentStore interface {
		UploadAttachment(ctx context.Context, recordID, bookID int64, up Upload) (status string, err error)
		DeleteAttachment(ctx context.Context, recordID, bookID int64, name string) (status string, err error)
	}

	// RecordLister re-reads records; the sync core uses it to learn the
	// server-assigned attachment names after an upload.
	RecordLister interface {
		ListRecordsByFilter(ctx context.Context, f Filter) ([]core.Record, error)
	}

	// TaxonomySource returns the server's known values for one taxonomy key.
	TaxonomySource interface {
		FetchCategoryValues(ctx context.Context, bookID int64, key TaxonomyKey) ([]string, error)
	}

	// AttachmentFetcher streams the stored bytes of an attachment.
	AttachmentFetcher interface {
		FetchAttachment(ctx context.Context, name string) (io.ReadCloser, error)
	}

	// Backend is everything a full server adapter provides.
	Backend interface {
		RecordWriter
		AttachmentStore
		RecordLister
		TaxonomySource
		AttachmentFetcher
	}
)

// Upload is one image sent to the attachment endpoint.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Filter narrows ListRecordsByFilter. Zero fields are ignored.
type Filter struct {
	BookID   int64
	RecordID int64
	From     core.Date
	To       core.Date
}

// TaxonomyKey addresses one ordered value list. Scope is the flow type for
// categories and empty for the other dimensions.
type TaxonomyKey struct {
	Dimension core.Dimension
	Scope     core.FlowType
}

// NewTaxonomyKey normalizes the scope: unscoped dimensions never carry one.
func NewTaxonomyKey(d core.Dimension, scope core.FlowType) TaxonomyKey {
	if !d.Scoped() {
		scope = ""
	}
	return TaxonomyKey{Dimension: d, Scope: scope}
}

// TaxonomyKeys returns every key the client tracks.
func TaxonomyKeys() []TaxonomyKey {
	var keys []TaxonomyKey
	for _, f := range core.FlowTypes() {
		keys = append(keys, NewTaxonomyKey(core.DimensionCategory, f))
	}
	keys = append(keys,
		NewTaxonomyKey(core.DimensionPaymentMethod, ""),
		NewTaxonomyKey(core.DimensionAttribution, ""),
	)
	return keys
}

func (k TaxonomyKey) String() string {
	if k.Scope == "" {
		return string(k.Dimension)
	}
	return fmt.Sprintf("%s/%s", k.Dimension, k.Scope)
}

// StatusError is returned by adapters when the server answers with a
// non-success status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Body)
}
