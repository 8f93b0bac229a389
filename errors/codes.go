package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates a resource (socket, port range) could not be acquired.
	// Retrying with different parameters may succeed.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Backend temporarily unavailable

	// Permanent
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"          // No such route or record
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED" // Route exists, method does not
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"      // Malformed or invalid argument
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"     // Configuration rejected
	ErrCodeCanceled         ErrorCode = "CANCELED"           // Context canceled

	// Resource
	ErrCodeBindFailed    ErrorCode = "BIND_FAILED"    // Socket could not be bound
	ErrCodePortExhausted ErrorCode = "PORT_EXHAUSTED" // No free port in range

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeMethodNotAllowed, ErrCodeInvalidInput,
		ErrCodeInvalidConfig, ErrCodeCanceled:
		return CategoryPermanent
	case ErrCodeBindFailed, ErrCodePortExhausted:
		return CategoryResource
	default:
		return CategoryInternal
	}
}
