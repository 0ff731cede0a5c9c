package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"bookkeep/internal/core"
	"bookkeep/internal/draft"
	"bookkeep/internal/remote"
)

type fakeRemote struct {
	calls []string

	nextID      int64
	createErr   error
	updateErr   error
	uploadFail  map[string]bool
	deleteFail  map[string]bool
	listErr     error
	attachments map[int64][]string
	uploaded    map[string]string
}

func newRemote() *fakeRemote {
	return &fakeRemote{
		nextID:      42,
		uploadFail:  map[string]bool{},
		deleteFail:  map[string]bool{},
		attachments: map[int64][]string{},
		uploaded:    map[string]string{},
	}
}

func (f *fakeRemote) CreateRecord(_ context.Context, r core.Record) (int64, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.nextID, nil
}

func (f *fakeRemote) UpdateRecord(_ context.Context, r core.Record) error {
	f.calls = append(f.calls, fmt.Sprintf("update:%d", r.ID))
	return f.updateErr
}

func (f *fakeRemote) UploadAttachment(_ context.Context, recordID, bookID int64, up remote.Upload) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("upload:%d:%s", recordID, up.FileName))
	if f.uploadFail[up.FileName] {
		return "", errors.New("503")
	}
	b, _ := io.ReadAll(up.Body)
	f.uploaded[up.FileName] = string(b)
	name := "srv-" + up.FileName
	f.attachments[recordID] = append(f.attachments[recordID], name)
	return "ok", nil
}

func (f *fakeRemote) DeleteAttachment(_ context.Context, recordID, _ int64, name string) (string, error) {
	f.calls = append(f.calls, "delete:"+name)
	if f.deleteFail[name] {
		return "", errors.New("500")
	}
	f.attachments[recordID] = slices.DeleteFunc(f.attachments[recordID], func(n string) bool { return n == name })
	return "ok", nil
}

func (f *fakeRemote) ListRecordsByFilter(_ context.Context, flt remote.Filter) ([]core.Record, error) {
	f.calls = append(f.calls, fmt.Sprintf("list:%d", flt.RecordID))
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []core.Record{{ID: flt.RecordID, BookID: flt.BookID, Attachments: slices.Clone(f.attachments[flt.RecordID])}}, nil
}

type fakeImages struct {
	cached  map[string]bool
	evicted []string
	warmed  []string
}

func (f *fakeImages) IsImageCached(name string) bool { return f.cached[name] }

func (f *fakeImages) CacheImages(_ context.Context, names []string) []string {
	f.warmed = append(f.warmed, names...)
	for _, n := range names {
		f.cached[n] = true
	}
	return nil
}

func (f *fakeImages) ClearCache(name string) error {
	f.evicted = append(f.evicted, name)
	delete(f.cached, name)
	return nil
}

type fakeNotifier struct {
	events []Event
	err    error
}

func (f *fakeNotifier) NotifySynced(_ context.Context, ev Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func newRecord() core.Record {
	return core.Record{
		BookID:   7,
		Flow:     core.Expense,
		Amount:   core.Money{Cents: 1250},
		Category: "Food",
		Date:     core.NewDate(2025, 5, 4),
	}
}

func TestSaveNewRecordUploadsAgainstAssignedID(t *testing.T) {
	rm := newRemote()
	imgs := &fakeImages{cached: map[string]bool{}}
	var steps []Step
	r := New(rm, imgs, WithProgress(func(s Step) { steps = append(steps, s) }))

	d := draft.New(newRecord())
	d, _ = d.Stage(draft.Image{FileName: "a.jpg", Data: []byte("A")})
	d, _ = d.Stage(draft.Image{FileName: "b.jpg", Data: []byte("B")})

	res, err := r.Save(context.Background(), d)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := []string{"create", "upload:42:a.jpg", "upload:42:b.jpg", "list:42"}
	if !slices.Equal(rm.calls, want) {
		t.Fatalf("calls = %v, want %v", rm.calls, want)
	}
	if !slices.Equal(steps, []Step{StepPersist, StepUpload, StepDelete, StepRefresh}) {
		t.Fatalf("unexpected steps %v", steps)
	}
	if !res.Created || res.Record.ID != 42 || res.Incomplete() {
		t.Fatalf("unexpected result %+v", res)
	}
	if rm.uploaded["a.jpg"] != "A" || rm.uploaded["b.jpg"] != "B" {
		t.Fatalf("upload bodies not streamed: %v", rm.uploaded)
	}

	wantNames := []string{"srv-a.jpg", "srv-b.jpg"}
	if !slices.Equal(res.Record.Attachments, wantNames) {
		t.Fatalf("attachments = %v", res.Record.Attachments)
	}
	if res.Draft.Dirty() || res.Draft.Record.ID != 42 {
		t.Fatalf("draft not committed: %+v", res.Draft)
	}
	if !slices.Equal(imgs.warmed, wantNames) {
		t.Fatalf("expected pre-warm of new names, got %v", imgs.warmed)
	}
}

func TestSaveEditDeletesAndEvicts(t *testing.T) {
	rm := newRemote()
	rm.attachments[42] = []string{"r1.jpg", "r2.jpg"}
	imgs := &fakeImages{cached: map[string]bool{"r1.jpg": true, "r2.jpg": true}}
	r := New(rm, imgs)

	rec := newRecord()
	rec.ID = 42
	rec.Attachments = []string{"r1.jpg", "r2.jpg"}
	d := draft.New(rec).MarkForDeletion(core.Uploaded("r1.jpg"))

	res, err := r.Save(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"update:42", "delete:r1.jpg", "list:42"}
	if !slices.Equal(rm.calls, want) {
		t.Fatalf("calls = %v, want %v", rm.calls, want)
	}
	if !slices.Equal(imgs.evicted, []string{"r1.jpg"}) {
		t.Fatalf("expected r1.jpg evicted, got %v", imgs.evicted)
	}
	if !slices.Equal(res.Record.Attachments, []string{"r2.jpg"}) {
		t.Fatalf("attachments = %v", res.Record.Attachments)
	}
	if len(imgs.warmed) != 0 {
		t.Fatalf("cached names must not be fetched again: %v", imgs.warmed)
	}
}

func TestSaveEditUploadsDeletesAndRefreshes(t *testing.T) {
	tests := []struct {
		name            string
		uploadFail      string
		wantAttachments []string
		wantWarmed      []string
		wantIncomplete  bool
	}{
		{
			name:            "all steps succeed",
			wantAttachments: []string{"r2.jpg", "srv-a.jpg", "srv-b.jpg"},
			wantWarmed:      []string{"srv-a.jpg", "srv-b.jpg"},
		},
		{
			name:            "one upload fails",
			uploadFail:      "b.jpg",
			wantAttachments: []string{"r2.jpg", "srv-a.jpg"},
			wantWarmed:      []string{"srv-a.jpg"},
			wantIncomplete:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newRemote()
			rm.attachments[42] = []string{"r1.jpg", "r2.jpg"}
			if tt.uploadFail != "" {
				rm.uploadFail[tt.uploadFail] = true
			}
			imgs := &fakeImages{cached: map[string]bool{"r1.jpg": true, "r2.jpg": true}}
			r := New(rm, imgs)

			rec := newRecord()
			rec.ID = 42
			rec.Attachments = []string{"r1.jpg", "r2.jpg"}
			d := draft.New(rec).MarkForDeletion(core.Uploaded("r1.jpg"))
			d, _ = d.Stage(draft.Image{FileName: "a.jpg", Data: []byte("A")})
			d, _ = d.Stage(draft.Image{FileName: "b.jpg", Data: []byte("B")})

			res, err := r.Save(context.Background(), d)
			if err != nil {
				t.Fatal(err)
			}

			want := []string{"update:42", "upload:42:a.jpg", "upload:42:b.jpg", "delete:r1.jpg", "list:42"}
			if !slices.Equal(rm.calls, want) {
				t.Fatalf("calls = %v, want %v", rm.calls, want)
			}
			if !slices.Equal(imgs.evicted, []string{"r1.jpg"}) {
				t.Errorf("expected r1.jpg evicted, got %v", imgs.evicted)
			}
			if !slices.Equal(res.Record.Attachments, tt.wantAttachments) {
				t.Errorf("attachments = %v, want %v", res.Record.Attachments, tt.wantAttachments)
			}
			if !slices.Equal(imgs.warmed, tt.wantWarmed) {
				t.Errorf("warmed = %v, want %v", imgs.warmed, tt.wantWarmed)
			}
			if res.Incomplete() != tt.wantIncomplete {
				t.Errorf("Incomplete = %t, want %t", res.Incomplete(), tt.wantIncomplete)
			}
		})
	}
}

func TestPersistFailureStopsEverything(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"create", 0},
		{"update", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newRemote()
			rm.createErr = errors.New("timeout")
			rm.updateErr = errors.New("timeout")
			notifier := &fakeNotifier{}
			r := New(rm, &fakeImages{cached: map[string]bool{}}, WithNotifier(notifier))

			rec := newRecord()
			rec.ID = tt.id
			rec.Attachments = []string{"r1.jpg"}
			d := draft.New(rec)
			d, _ = d.Stage(draft.Image{FileName: "a.jpg", Data: []byte("A")})
			d = d.MarkForDeletion(core.Uploaded("r1.jpg"))

			res, err := r.Save(context.Background(), d)
			if res != nil {
				t.Fatal("expected no result on persist failure")
			}
			var pe *PersistError
			if !errors.As(err, &pe) || !errors.Is(err, ErrPersistFailed) {
				t.Fatalf("expected PersistError, got %v", err)
			}
			if len(rm.calls) != 1 {
				t.Fatalf("expected only the persist call, got %v", rm.calls)
			}
			if len(d.Staged()) != 1 || len(d.PendingDeletes()) != 1 {
				t.Fatal("caller's draft must be intact")
			}
			if len(notifier.events) != 0 {
				t.Fatal("failed save must not notify")
			}
		})
	}
}

func TestPartialUploadFailureContinues(t *testing.T) {
	rm := newRemote()
	rm.uploadFail["b.jpg"] = true
	r := New(rm, nil)

	d := draft.New(newRecord())
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		d, _ = d.Stage(draft.Image{FileName: n, Data: []byte(n)})
	}

	res, err := r.Save(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Uploaded) != 2 || len(res.Failures) != 1 {
		t.Fatalf("uploaded=%d failures=%d", len(res.Uploaded), len(res.Failures))
	}
	if !errors.Is(res.Failures[0], ErrUploadFailed) || res.Failures[0].Name != "b.jpg" {
		t.Fatalf("unexpected failure %v", res.Failures[0])
	}
	if res.Notice() != "saved, but 1 attachment failed" {
		t.Fatalf("notice = %q", res.Notice())
	}
	if !errors.Is(res.Err(), ErrUploadFailed) {
		t.Fatalf("joined error lost sentinel: %v", res.Err())
	}
}

func TestDeleteFailureKeepsCacheEntry(t *testing.T) {
	rm := newRemote()
	rm.attachments[42] = []string{"r1.jpg", "r2.jpg"}
	rm.deleteFail["r1.jpg"] = true
	imgs := &fakeImages{cached: map[string]bool{"r1.jpg": true, "r2.jpg": true}}
	r := New(rm, imgs)

	rec := newRecord()
	rec.ID = 42
	rec.Attachments = []string{"r1.jpg", "r2.jpg"}
	d := draft.New(rec).MarkForDeletion(core.Uploaded("r1.jpg")).MarkForDeletion(core.Uploaded("r2.jpg"))

	res, err := r.Save(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(imgs.evicted, []string{"r2.jpg"}) {
		t.Fatalf("only deleted names may be evicted, got %v", imgs.evicted)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], ErrDeleteFailed) {
		t.Fatalf("unexpected failures %v", res.Failures)
	}
	if !slices.Equal(res.Record.Attachments, []string{"r1.jpg"}) {
		t.Fatalf("server list must stay authoritative, got %v", res.Record.Attachments)
	}
}

func TestRefreshFailureFallsBack(t *testing.T) {
	rm := newRemote()
	rm.listErr = errors.New("offline")
	r := New(rm, nil)

	rec := newRecord()
	rec.ID = 42
	rec.Attachments = []string{"r1.jpg", "r2.jpg"}
	d := draft.New(rec).MarkForDeletion(core.Uploaded("r1.jpg"))

	res, err := r.Save(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.RefreshErr == nil || !res.Incomplete() {
		t.Fatal("expected refresh error recorded")
	}
	if !slices.Equal(res.Record.Attachments, []string{"r2.jpg"}) {
		t.Fatalf("fallback list = %v", res.Record.Attachments)
	}
	if !strings.Contains(res.Notice(), "refreshed") {
		t.Fatalf("notice = %q", res.Notice())
	}
}

func TestEmptyBuffersMeanSingleListCall(t *testing.T) {
	rm := newRemote()
	r := New(rm, nil)

	rec := newRecord()
	rec.ID = 9
	if _, err := r.Save(context.Background(), draft.New(rec)); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rm.calls, []string{"update:9", "list:9"}) {
		t.Fatalf("calls = %v", rm.calls)
	}
}

func TestInvalidRecordMakesNoCalls(t *testing.T) {
	rm := newRemote()
	r := New(rm, nil)

	_, err := r.Save(context.Background(), draft.New(core.Record{BookID: 1}))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if len(rm.calls) != 0 {
		t.Fatalf("unexpected calls %v", rm.calls)
	}
}

func TestNotifierErrorIsNotFatal(t *testing.T) {
	rm := newRemote()
	n := &fakeNotifier{err: errors.New("broker down")}
	r := New(rm, nil, WithNotifier(n))

	d, _ := draft.New(newRecord()).Stage(draft.Image{FileName: "a.jpg", Data: []byte("A")})
	res, err := r.Save(context.Background(), d)
	if err != nil || res == nil {
		t.Fatalf("notifier failure leaked: %v", err)
	}
	if len(n.events) != 1 {
		t.Fatalf("expected one event, got %d", len(n.events))
	}
	ev := n.events[0]
	if ev.RecordID != 42 || ev.BookID != 7 || !ev.Created || ev.Uploaded != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
