package backend

import (
	"fmt"
	"time"

	"bookkeep/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// REST specific
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// Taxonomy source: server or sheets
	TaxonomySource           string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Attachment source: server or gcs
	AttachmentSource string
	GCSBucket        string
	GCSPrefix        string

	// Optional event publishing
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:       backendType,
		APIBaseURL: appConfig.APIBaseURL,
		APIToken:   appConfig.APIToken,
		APITimeout: appConfig.APITimeout,

		TaxonomySource:           appConfig.TaxonomySource,
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,

		AttachmentSource: appConfig.AttachmentSource,
		GCSBucket:        appConfig.GCSBucket,
		GCSPrefix:        appConfig.GCSPrefix,

		AMQPURL:        appConfig.AMQPURL,
		AMQPExchange:   appConfig.AMQPExchange,
		AMQPRoutingKey: appConfig.AMQPRoutingKey,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == RESTBackend && c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required for rest backend")
	}

	switch c.TaxonomySource {
	case "", config.SourceServer:
	case config.SourceSheets:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets taxonomy")
		}
	default:
		return fmt.Errorf("invalid taxonomy source: %s", c.TaxonomySource)
	}

	switch c.AttachmentSource {
	case "", config.SourceServer:
	case config.SourceGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS bucket is required for gcs attachments")
		}
	default:
		return fmt.Errorf("invalid attachment source: %s", c.AttachmentSource)
	}

	return nil
}
