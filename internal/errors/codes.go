// Package errors provides structured error handling for searchsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (queue store, extraction cache, file share)
//   - 3XX: Collaborator errors (triplestore, search engine, extraction)
//   - 4XX: Validation errors (filter syntax, field cardinality)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates local storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCollaborator indicates errors talking to an external service.
	CategoryCollaborator Category = "COLLABORATOR"
	// CategoryValidation indicates user input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199). Config errors are fatal: an unknown type or
	// a dangling composite reference means the instance cannot run correctly.
	ErrCodeConfigNotFound    = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownType       = "ERR_103_UNKNOWN_TYPE"
	ErrCodeCompositeMismatch = "ERR_104_COMPOSITE_PROPERTY_MISMATCH"

	// Storage errors (200-299)
	ErrCodeQueueStore    = "ERR_201_QUEUE_STORE"
	ErrCodeCacheStore    = "ERR_202_CACHE_STORE"
	ErrCodeFileNotFound  = "ERR_203_FILE_NOT_FOUND"
	ErrCodeFileTooLarge  = "ERR_204_FILE_TOO_LARGE"
	ErrCodeInstanceLock  = "ERR_205_INSTANCE_LOCK"

	// Collaborator errors (300-399)
	ErrCodeTriplestore      = "ERR_301_TRIPLESTORE"
	ErrCodeSearchEngine     = "ERR_302_SEARCH_ENGINE"
	ErrCodeExtractionFailed = "ERR_303_EXTRACTION_FAILED"
	ErrCodePoolTimeout      = "ERR_304_POOL_ACQUIRE_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidFilter    = "ERR_401_INVALID_FILTER"
	ErrCodeFieldCardinality = "ERR_402_FIELD_CARDINALITY"
	ErrCodeInvalidInput     = "ERR_403_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode derives the category from the numeric range of the code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity. Config errors abort startup; everything
// else fails the current unit of work only.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// retryableCodes are errors worth retrying with backoff.
var retryableCodes = map[string]bool{
	ErrCodeTriplestore:  true,
	ErrCodeSearchEngine: true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
