package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
	FieldBookID    = "book_id"
	FieldRecordID  = "record_id"
	FieldOutboxID  = "outbox_id"
	FieldName      = "name"
	FieldKey       = "key"
	FieldCount     = "count"
	FieldBackend   = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentCLI       = "cli"
	ComponentSync      = "sync"
	ComponentOutbox    = "outbox"
	ComponentTaxonomy  = "taxonomy"
	ComponentImages    = "images"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentBackend   = "backend"
	ComponentReconcile = "reconcile"
)

// Operations defines standard operation names
const (
	OpSave     = "save"
	OpReplay   = "replay"
	OpRefresh  = "refresh"
	OpPrefetch = "prefetch"
	OpClear    = "clear"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
