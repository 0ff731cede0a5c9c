// Package draft holds the in-progress edit state of a record: its scalar
// fields, the attachment references shown to the user, the images picked on
// the device but not uploaded yet, and the uploaded attachments the user
// removed during the session.
//
// Every transition returns a new Draft and leaves the receiver untouched, so a
// failed save can hand the caller back exactly what it had before.
package draft

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"

	"bookkeep/internal/core"
)

var ErrEmptyImage = errors.New("image has neither data nor path")

// Image is a receipt picked from the camera or gallery.
type Image struct {
	FileName    string
	ContentType string
	URI         string // display location on the device
	Path        string // local file to read at upload time, when Data is empty
	Data        []byte
}

// Open returns a reader over the image content.
func (img Image) Open() (io.ReadCloser, error) {
	if len(img.Data) > 0 {
		return io.NopCloser(bytes.NewReader(img.Data)), nil
	}
	if img.Path == "" {
		return nil, ErrEmptyImage
	}
	f, err := os.Open(img.Path)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", img.Path, err)
	}
	return f, nil
}

// StagedAttachment pairs a local reference with the image it stands for.
type StagedAttachment struct {
	Ref   core.AttachmentRef
	Image Image
}

// Draft is the editing session's view of a record.
type Draft struct {
	Record      core.Record
	Attachments []core.AttachmentRef

	staged        map[string]Image // by LocalID
	pendingDelete []string
}

// New starts a draft from a record; a zero record starts a new transaction.
func New(r core.Record) Draft {
	return Draft{
		Record:      r,
		Attachments: uploadedRefs(r.Attachments),
	}
}

// Stage records a user-picked image as a local attachment and returns the
// reference, usable for display before any network call.
func (d Draft) Stage(img Image) (Draft, core.AttachmentRef) {
	next := d.clone()
	uri := img.URI
	if uri == "" {
		uri = img.Path
	}
	ref := core.Local(uuid.NewString(), uri)
	next.Attachments = append(next.Attachments, ref)
	next.staged[ref.LocalID] = img
	return next, ref
}

// MarkForDeletion removes a reference from the user's view. Local references
// are dropped outright. Uploaded ones are only remembered for deletion at save
// time so cancelling the edit leaves the server untouched.
func (d Draft) MarkForDeletion(ref core.AttachmentRef) Draft {
	next := d.clone()
	switch ref.Kind {
	case core.AttachmentLocal:
		next.Attachments = slices.DeleteFunc(next.Attachments, func(a core.AttachmentRef) bool {
			return a.IsLocal() && a.LocalID == ref.LocalID
		})
		delete(next.staged, ref.LocalID)
	case core.AttachmentUploaded:
		if !slices.Contains(next.pendingDelete, ref.Name) {
			next.pendingDelete = append(next.pendingDelete, ref.Name)
		}
	}
	return next
}

// Visible returns the attachments to display: everything but pending deletes.
func (d Draft) Visible() []core.AttachmentRef {
	out := make([]core.AttachmentRef, 0, len(d.Attachments))
	for _, a := range d.Attachments {
		if a.IsUploaded() && slices.Contains(d.pendingDelete, a.Name) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Staged returns the local attachments awaiting upload, in display order.
func (d Draft) Staged() []StagedAttachment {
	var out []StagedAttachment
	for _, a := range d.Attachments {
		if !a.IsLocal() {
			continue
		}
		img, ok := d.staged[a.LocalID]
		if !ok {
			continue
		}
		out = append(out, StagedAttachment{Ref: a, Image: img})
	}
	return out
}

// PendingDeletes returns the uploaded names to delete once the record saves.
func (d Draft) PendingDeletes() []string {
	return slices.Clone(d.pendingDelete)
}

// Dirty reports whether the draft carries attachment changes not yet synced.
func (d Draft) Dirty() bool {
	return len(d.staged) > 0 || len(d.pendingDelete) > 0
}

// Commit promotes the draft to the saved record: staged images and pending
// deletes are cleared and the attachment list becomes the server's.
func (d Draft) Commit(saved core.Record) Draft {
	return New(saved)
}

// WithRecord replaces the scalar fields, keeping attachment state. The
// record's ID is preserved when the replacement carries none.
func (d Draft) WithRecord(r core.Record) Draft {
	next := d.clone()
	if r.ID == 0 {
		r.ID = d.Record.ID
	}
	r.Attachments = slices.Clone(d.Record.Attachments)
	next.Record = r
	return next
}

// Restore rebuilds a draft from persisted parts, e.g. an offline queue entry.
// Staged images follow the record's uploaded attachments in the given order.
func Restore(r core.Record, staged []StagedAttachment, pendingDelete []string) Draft {
	d := New(r)
	d.staged = make(map[string]Image, len(staged))
	for _, s := range staged {
		d.Attachments = append(d.Attachments, s.Ref)
		d.staged[s.Ref.LocalID] = s.Image
	}
	d.pendingDelete = slices.Clone(pendingDelete)
	return d
}

func (d Draft) clone() Draft {
	next := Draft{
		Record:        d.Record,
		Attachments:   slices.Clone(d.Attachments),
		staged:        make(map[string]Image, len(d.staged)+1),
		pendingDelete: slices.Clone(d.pendingDelete),
	}
	next.Record.Attachments = slices.Clone(d.Record.Attachments)
	for k, v := range d.staged {
		next.staged[k] = v
	}
	return next
}

func uploadedRefs(names []string) []core.AttachmentRef {
	refs := make([]core.AttachmentRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, core.Uploaded(n))
	}
	return refs
}
