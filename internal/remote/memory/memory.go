// Package memory is an in-process bookkeeping server. It backs the "memory"
// data backend and the integration tests of the sync flow.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"bookkeep/internal/core"
	"bookkeep/internal/remote"
)

var _ remote.Backend = (*Server)(nil)

// Operation names accepted by Fail.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpUpload   = "upload"
	OpDelete   = "delete"
	OpList     = "list"
	OpTaxonomy = "taxonomy"
	OpFetch    = "fetch"
)

type Server struct {
	mu       sync.Mutex
	nextID   int64
	seq      int
	records  map[int64]core.Record
	blobs    map[string][]byte
	taxonomy map[remote.TaxonomyKey][]string
	failures map[string]error
	calls    []string
}

// New creates a server answering taxonomy requests with the given lists.
func New(taxonomy map[remote.TaxonomyKey][]string) *Server {
	tx := make(map[remote.TaxonomyKey][]string, len(taxonomy))
	for k, v := range taxonomy {
		tx[k] = dedupe(v)
	}
	return &Server{
		nextID:   1,
		records:  make(map[int64]core.Record),
		blobs:    make(map[string][]byte),
		taxonomy: tx,
		failures: make(map[string]error),
	}
}

// Fail makes every subsequent op fail with err until cleared with a nil err.
func (s *Server) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns the operations served so far, including failed ones.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Record returns the stored record.
func (s *Server) Record(id int64) (core.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	r.Attachments = slices.Clone(r.Attachments)
	return r, ok
}

func (s *Server) CreateRecord(_ context.Context, r core.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreate); err != nil {
		return 0, err
	}
	if err := r.Validate(); err != nil {
		return 0, err
	}
	r.ID = s.nextID
	s.nextID++
	r.Attachments = nil
	s.records[r.ID] = r
	return r.ID, nil
}

func (s *Server) UpdateRecord(_ context.Context, r core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdate); err != nil {
		return err
	}
	old, ok := s.records[r.ID]
	if !ok || old.BookID != r.BookID {
		return &remote.StatusError{Op: "update record", StatusCode: 404}
	}
	if err := r.Validate(); err != nil {
		return err
	}
	// Attachments are only changed through their own endpoints.
	r.Attachments = old.Attachments
	s.records[r.ID] = r
	return nil
}

func (s *Server) UploadAttachment(_ context.Context, recordID, bookID int64, up remote.Upload) (string, error) {
	b, err := io.ReadAll(up.Body)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpload); err != nil {
		return "", err
	}
	r, ok := s.records[recordID]
	if !ok || r.BookID != bookID {
		return "", &remote.StatusError{Op: "upload attachment", StatusCode: 404}
	}
	s.seq++
	name := fmt.Sprintf("att-%d-%d%s", recordID, s.seq, strings.ToLower(path.Ext(up.FileName)))
	s.blobs[name] = b
	r.Attachments = append(slices.Clone(r.Attachments), name)
	s.records[recordID] = r
	return "stored", nil
}

func (s *Server) DeleteAttachment(_ context.Context, recordID, bookID int64, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete); err != nil {
		return "", err
	}
	r, ok := s.records[recordID]
	if !ok || r.BookID != bookID || !slices.Contains(r.Attachments, name) {
		return "", &remote.StatusError{Op: "delete attachment", StatusCode: 404}
	}
	r.Attachments = slices.DeleteFunc(slices.Clone(r.Attachments), func(n string) bool { return n == name })
	s.records[recordID] = r
	delete(s.blobs, name)
	return "deleted", nil
}

func (s *Server) ListRecordsByFilter(_ context.Context, f remote.Filter) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpList); err != nil {
		return nil, err
	}
	var out []core.Record
	for _, r := range s.records {
		if f.BookID != 0 && r.BookID != f.BookID {
			continue
		}
		if f.RecordID != 0 && r.ID != f.RecordID {
			continue
		}
		if !f.From.IsZero() && r.Date.Before(f.From.Time) {
			continue
		}
		if !f.To.IsZero() && r.Date.After(f.To.Time) {
			continue
		}
		r.Attachments = slices.Clone(r.Attachments)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b core.Record) int {
		if c := a.Date.Compare(b.Date.Time); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (s *Server) FetchCategoryValues(_ context.Context, _ int64, key remote.TaxonomyKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpTaxonomy); err != nil {
		return nil, err
	}
	return slices.Clone(s.taxonomy[key]), nil
}

func (s *Server) FetchAttachment(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFetch); err != nil {
		return nil, err
	}
	b, ok := s.blobs[name]
	if !ok {
		return nil, &remote.StatusError{Op: "fetch attachment", StatusCode: 404}
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// enter records the call and returns the injected failure, if any.
// Callers hold s.mu.
func (s *Server) enter(op string) error {
	s.calls = append(s.calls, op)
	return s.failures[op]
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
