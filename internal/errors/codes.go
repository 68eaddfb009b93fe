package errors

// Category groups error codes by subsystem.
type Category string

const (
	CategoryConfig   Category = "Config"
	CategoryStore    Category = "Store"
	CategoryProvider Category = "Provider"
	CategoryIndex    Category = "Index"
	CategorySearch   Category = "Search"
	CategoryInternal Category = "Internal"
)

// Severity indicates how the caller should treat an error.
type Severity string

const (
	// SeverityWarn means the operation degraded but produced a usable result.
	SeverityWarn Severity = "warn"
	// SeverityError means the operation failed and may be retried.
	SeverityError Severity = "error"
	// SeverityFatal means the operation failed and retrying will not help
	// without operator intervention (e.g. a full re-index).
	SeverityFatal Severity = "fatal"
)

// Error codes. The numeric band identifies the category:
// 1xx config, 2xx store, 3xx provider, 4xx index, 5xx search, 9xx internal.
const (
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	ErrCodeStoreIO           = "ERR_201_STORE_IO"
	ErrCodeDimensionMismatch = "ERR_202_DIMENSION_MISMATCH"
	ErrCodeCorpusScope       = "ERR_203_CORPUS_SCOPE_VIOLATION"
	ErrCodeStoreClosed       = "ERR_204_STORE_CLOSED"

	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderResponse    = "ERR_302_PROVIDER_BAD_RESPONSE"

	ErrCodeIndexLocked  = "ERR_401_INDEX_LOCKED"
	ErrCodeIndexAborted = "ERR_402_INDEX_ABORTED"

	ErrCodeEmptyQuery = "ERR_501_EMPTY_QUERY"

	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode derives the category from the code's numeric band.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryProvider
	case '4':
		return CategoryIndex
	case '5':
		return CategorySearch
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from the code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDimensionMismatch, ErrCodeCorpusScope, ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeProviderUnavailable, ErrCodeIndexLocked:
		return SeverityError
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the operation behind a code may succeed
// if repeated. Dimension and scope violations never are.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderUnavailable, ErrCodeIndexLocked, ErrCodeIndexAborted, ErrCodeStoreIO:
		return true
	default:
		return false
	}
}
