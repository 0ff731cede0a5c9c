package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"bookkeep/internal/core"
	"bookkeep/internal/remote"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api", 5*time.Second, WithToken("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func sampleRecord() core.Record {
	return core.Record{
		BookID:   3,
		Flow:     core.Expense,
		Amount:   core.Money{Cents: 1250},
		Category: "Food",
		Date:     core.NewDate(2025, 5, 4),
	}
}

func TestCreateRecord(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/books/{book}/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var dto recordDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PathValue("book") != "3" || dto.Amount != "12.50" || dto.Date != "2025-05-04" || dto.FlowType != "expense" {
			http.Error(w, "unexpected payload", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":42}`))
	})
	c := newTestClient(t, mux)

	id, err := c.CreateRecord(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Fatalf("id = %d", id)
	}
}

func TestUpdateRecordStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/books/3/records/42", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	})
	c := newTestClient(t, mux)

	rec := sampleRecord()
	rec.ID = 42
	err := c.UpdateRecord(context.Background(), rec)

	var se *remote.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict || se.Body != "conflict" {
		t.Fatalf("expected StatusError 409, got %v", err)
	}
}

func TestUploadAttachmentMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/books/3/records/42/attachments", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if hdr.Filename != "receipt.jpg" || string(b) != "jpeg-bytes" || hdr.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "bad part", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"stored"}`))
	})
	c := newTestClient(t, mux)

	status, err := c.UploadAttachment(context.Background(), 42, 3, remote.Upload{
		FileName:    "receipt.jpg",
		ContentType: "image/jpeg",
		Body:        strings.NewReader("jpeg-bytes"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if status != "stored" {
		t.Fatalf("status = %q", status)
	}
}

func TestDeleteAttachmentEscapesName(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/books/3/records/42/attachments/{name}", func(w http.ResponseWriter, r *http.Request) {
		got = r.PathValue("name")
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	if _, err := c.DeleteAttachment(context.Background(), 42, 3, "scan 1.jpg"); err != nil {
		t.Fatal(err)
	}
	if got != "scan 1.jpg" {
		t.Fatalf("server saw name %q", got)
	}
}

func TestListRecordsByFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/books/3/records", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "42" || r.URL.Query().Has("from") {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"id":42,"bookId":3,"flowType":"expense","amount":"12.50","category":"Food","date":"2025-05-04","attachments":["r1.jpg","r2.jpg"]}]`))
	})
	c := newTestClient(t, mux)

	recs, err := c.ListRecordsByFilter(context.Background(), remote.Filter{BookID: 3, RecordID: 42})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	r := recs[0]
	if r.ID != 42 || r.Amount.Cents != 1250 || !slices.Equal(r.Attachments, []string{"r1.jpg", "r2.jpg"}) {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestFetchCategoryValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/books/3/taxonomy/{dim}", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("dim") == "category" && r.URL.Query().Get("scope") == "income":
			_, _ = w.Write([]byte(`{"values":["Salary","Dividends"]}`))
		case r.PathValue("dim") == "paymentMethod" && !r.URL.Query().Has("scope"):
			_, _ = w.Write([]byte(`{"values":["Cash"]}`))
		default:
			http.NotFound(w, r)
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	got, err := c.FetchCategoryValues(ctx, 3, remote.NewTaxonomyKey(core.DimensionCategory, core.Income))
	if err != nil || !slices.Equal(got, []string{"Salary", "Dividends"}) {
		t.Fatalf("category: %v, %v", got, err)
	}
	got, err = c.FetchCategoryValues(ctx, 3, remote.NewTaxonomyKey(core.DimensionPaymentMethod, core.Income))
	if err != nil || !slices.Equal(got, []string{"Cash"}) {
		t.Fatalf("payment method: %v, %v", got, err)
	}
}

func TestFetchAttachment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/attachments/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "r1.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image"))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	rc, err := c.FetchAttachment(ctx, "r1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "image" {
		t.Fatalf("got %q", b)
	}

	_, err = c.FetchAttachment(ctx, "nope.jpg")
	var se *remote.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "://bad"} {
		if _, err := New(u, time.Second); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}
