package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend and source selectors.
const (
	BackendREST   = "rest"
	BackendMemory = "memory"

	SourceServer = "server"
	SourceSheets = "sheets"
	SourceGCS    = "gcs"
)

type Config struct {
	// Remote
	DataBackend string
	APIBaseURL  string
	APIToken    string
	APITimeout  time.Duration
	BookID      int64

	// Local state
	SQLiteDBPath string

	// Image cache
	ImageCacheDir            string
	ImageCacheMemoryItems    int
	ImageCacheMemoryBytes    int64
	ImageCacheMemoryTTL      time.Duration
	ImagePrefetchConcurrency int

	// Taxonomy
	TaxonomySource           string
	TaxonomyRefreshInterval  time.Duration
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Attachments
	AttachmentSource string
	GCSBucket        string
	GCSPrefix        string

	// AMQP (optional)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Outbox
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int

	LogLevel string
}

func Load() *Config {
	return &Config{
		DataBackend: getEnv("DATA_BACKEND", BackendREST),
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080/api"),
		APIToken:    getEnv("API_TOKEN", ""),
		APITimeout:  getEnvDuration("API_TIMEOUT", 15*time.Second),
		BookID:      getEnvInt64("BOOK_ID", 1),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/bookkeep.db"),

		ImageCacheDir:            getEnv("IMAGE_CACHE_DIR", "./data/images"),
		ImageCacheMemoryItems:    getEnvInt("IMAGE_CACHE_MEMORY_ITEMS", 32),
		ImageCacheMemoryBytes:    getEnvInt64("IMAGE_CACHE_MEMORY_BYTES", 32<<20),
		ImageCacheMemoryTTL:      getEnvDuration("IMAGE_CACHE_MEMORY_TTL", 10*time.Minute),
		ImagePrefetchConcurrency: getEnvInt("IMAGE_PREFETCH_CONCURRENCY", 4),

		TaxonomySource:           getEnv("TAXONOMY_SOURCE", SourceServer),
		TaxonomyRefreshInterval:  getEnvDuration("TAXONOMY_REFRESH_INTERVAL", 6*time.Hour),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		AttachmentSource: getEnv("ATTACHMENT_SOURCE", SourceServer),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		GCSPrefix:        getEnv("GCS_PREFIX", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "bookkeep"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "record.synced"),

		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 15*time.Second),
		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 10),
		OutboxMaxRetries:   getEnvInt("OUTBOX_MAX_RETRIES", 5),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	switch c.DataBackend {
	case BackendREST:
		if c.APIBaseURL == "" {
			errors = append(errors, "API_BASE_URL is required when using rest backend")
		} else if u, err := url.Parse(c.APIBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
		if c.APITimeout <= 0 {
			errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be positive", c.APITimeout))
		}
	case BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [%s %s]", c.DataBackend, BackendREST, BackendMemory))
	}

	if c.BookID < 1 {
		errors = append(errors, fmt.Sprintf("invalid book id %d: must be positive", c.BookID))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	if c.ImageCacheDir == "" {
		errors = append(errors, "image cache directory cannot be empty")
	}
	if c.ImageCacheMemoryItems < 1 {
		errors = append(errors, fmt.Sprintf("invalid image cache memory items %d: must be at least 1", c.ImageCacheMemoryItems))
	}
	if c.ImageCacheMemoryBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid image cache memory bytes %d: must be positive", c.ImageCacheMemoryBytes))
	}
	if c.ImagePrefetchConcurrency < 1 || c.ImagePrefetchConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid image prefetch concurrency %d: must be between 1 and 64", c.ImagePrefetchConcurrency))
	}

	switch c.TaxonomySource {
	case SourceServer:
	case SourceSheets:
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when TAXONOMY_SOURCE is sheets")
		}
		if c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets taxonomy")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid taxonomy source '%s': must be one of [%s %s]", c.TaxonomySource, SourceServer, SourceSheets))
	}
	if c.TaxonomyRefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid taxonomy refresh interval %v: must be at least 1 minute", c.TaxonomyRefreshInterval))
	}

	switch c.AttachmentSource {
	case SourceServer:
	case SourceGCS:
		if c.GCSBucket == "" {
			errors = append(errors, "GCS_BUCKET is required when ATTACHMENT_SOURCE is gcs")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid attachment source '%s': must be one of [%s %s]", c.AttachmentSource, SourceServer, SourceGCS))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.OutboxBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbox batch size %d: must be at least 1", c.OutboxBatchSize))
	} else if c.OutboxBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid outbox batch size %d: must be at most 1000", c.OutboxBatchSize))
	}
	if c.OutboxMaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbox max retries %d: must be at least 1", c.OutboxMaxRetries))
	}
	if c.OutboxPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid outbox poll interval %v: must be at least 1 second", c.OutboxPollInterval))
	} else if c.OutboxPollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid outbox poll interval %v: must be at most 24 hours", c.OutboxPollInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
