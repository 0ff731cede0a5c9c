package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bookkeep/internal/amqp"
	"bookkeep/internal/config"
	"bookkeep/internal/remote"
	"bookkeep/internal/remote/gcs"
	"bookkeep/internal/remote/memory"
	"bookkeep/internal/remote/rest"
	"bookkeep/internal/remote/sheets"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend builds the record server adapter, then swaps in the
// configured taxonomy and attachment sources and the optional notifier.
// On error every resource opened so far is released.
func (f *DefaultFactory) CreateBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var server remote.Backend
	switch cfg.Type {
	case RESTBackend:
		var opts []rest.Option
		if cfg.APIToken != "" {
			opts = append(opts, rest.WithToken(cfg.APIToken))
		}
		client, err := rest.New(cfg.APIBaseURL, cfg.APITimeout, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize REST client: %w", err)
		}
		server = client
		f.logger.Info("Initialized REST backend", "base_url", cfg.APIBaseURL)
	case MemoryBackend:
		server = memory.New(nil)
		f.logger.Info("Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}

	res := &BackendResult{
		Remote:      server,
		Taxonomy:    server,
		Attachments: server,
	}
	var closers []func() error
	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*BackendResult, error) {
		if cerr := res.Cleanup(); cerr != nil {
			f.logger.Warn("Cleanup after backend failure", "error", cerr)
		}
		return nil, err
	}

	if cfg.TaxonomySource == config.SourceSheets {
		src, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to initialize Google Sheets taxonomy source: %w", err))
		}
		res.Taxonomy = src
		f.logger.Info("Using Google Sheets taxonomy source", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	if cfg.AttachmentSource == config.SourceGCS {
		fetcher, err := gcs.New(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize GCS attachment fetcher: %w", err))
		}
		closers = append(closers, fetcher.Close)
		res.Attachments = fetcher
		f.logger.Info("Using GCS attachment source", "bucket", cfg.GCSBucket, "prefix", cfg.GCSPrefix)
	}

	// Event publishing is optional; a broker outage must not block saves.
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			closers = append(closers, client.Close)
			res.Notifier = client
			f.logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"routing_key", cfg.AMQPRoutingKey)
		}
	}

	return res, nil
}
