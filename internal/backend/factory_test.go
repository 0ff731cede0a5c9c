package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"bookkeep/internal/config"
	"bookkeep/internal/remote/memory"
	"bookkeep/internal/remote/rest"
)

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	t.Run("memory backend serves every port", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		if err != nil {
			t.Fatal(err)
		}
		defer res.Close()
		srv, ok := res.Remote.(*memory.Server)
		if !ok {
			t.Fatalf("Remote = %T", res.Remote)
		}
		if res.Taxonomy != srv || res.Attachments != srv {
			t.Error("taxonomy and attachments should default to the server")
		}
		if res.Notifier != nil {
			t.Error("no notifier expected without AMQP_URL")
		}
	})

	t.Run("rest backend", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{
			Type:       RESTBackend,
			APIBaseURL: "http://localhost:8080/api",
			APITimeout: time.Second,
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := res.Remote.(*rest.Client); !ok {
			t.Fatalf("Remote = %T", res.Remote)
		}
		if err := res.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown type", Config{Type: "sqlite"}, "invalid backend type"},
		{"rest without URL", Config{Type: RESTBackend}, "API base URL is required"},
		{"rest with bad scheme", Config{Type: RESTBackend, APIBaseURL: "ftp://x"}, "REST client"},
		{"sheets without spreadsheet", Config{Type: MemoryBackend, TaxonomySource: config.SourceSheets}, "Spreadsheet ID"},
		{"gcs without bucket", Config{Type: MemoryBackend, AttachmentSource: config.SourceGCS}, "GCS bucket"},
		{"unknown attachment source", Config{Type: MemoryBackend, AttachmentSource: "s3"}, "invalid attachment source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.CreateBackend(ctx, tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("CreateBackend() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}

	app := &config.Config{
		DataBackend:      "memory",
		TaxonomySource:   config.SourceServer,
		AttachmentSource: config.SourceGCS,
		GCSBucket:        "receipts",
		GCSPrefix:        "books/1",
		AMQPRoutingKey:   "record.synced",
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != MemoryBackend || cfg.GCSBucket != "receipts" || cfg.GCSPrefix != "books/1" || cfg.AMQPRoutingKey != "record.synced" {
		t.Errorf("unexpected conversion: %+v", cfg)
	}

	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app); err == nil {
		t.Error("expected error for unknown backend")
	}
}
