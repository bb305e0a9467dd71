package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Engine Errors (S001-S099)
	// ============================================

	"S001": {
		Category: CategoryEngine,
		Message:  "Cyclic derivation",
		Detail:   "A derived cell read itself, directly or through other derived cells, while computing its value.",
	},
	"S002": {
		Category: CategoryAsync,
		Message:  "Async derivation failed",
		Detail:   "The getter of an async derived cell returned an error. No value was committed.",
	},
	"S003": {
		Category: CategoryAsync,
		Message:  "Async derivation panicked",
		Detail:   "The getter of an async derived cell panicked. The panic was recovered and no value was committed.",
	},

	// ============================================
	// Persistence Errors (P001-P099)
	// ============================================

	"P001": {
		Category: CategoryStorage,
		Message:  "Storage read failed",
		Detail:   "The persisted record could not be read from the storage backend.",
	},
	"P002": {
		Category: CategoryStorage,
		Message:  "Storage write failed",
		Detail:   "The value could not be written to the storage backend. The in-memory value is kept.",
	},
	"P003": {
		Category: CategoryStorage,
		Message:  "Persisted value could not be decoded",
		Detail:   "The stored record does not decode into the cell's value type.",
	},
	"P004": {
		Category: CategoryStorage,
		Message:  "Persisted version mismatch",
		Detail:   "The stored record was written with another version and no migrator is configured.",
	},

	// ============================================
	// Config Errors (C001-C099)
	// ============================================

	"C001": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "The configuration file or environment contains an invalid value.",
	},
	"C002": {
		Category: CategoryConfig,
		Message:  "Unknown storage backend",
		Detail:   "Supported backends are memory, redis, sqlite and s3.",
	},

	// ============================================
	// HTTP Errors (H001-H099)
	// ============================================

	"H001": {
		Category: CategoryHTTP,
		Message:  "Bad request body",
		Detail:   "The request body is not valid JSON.",
	},
	"H002": {
		Category: CategoryHTTP,
		Message:  "WebSocket upgrade failed",
	},
	"H003": {
		Category: CategoryHTTP,
		Message:  "Cell not found",
		Detail:   "No cell exists for the requested key.",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
