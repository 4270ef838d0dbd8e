package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"

	// Album fetch failures
	ErrorTypeInvalidURL ErrorType = "invalid_url"
	ErrorTypeEmptyAlbum ErrorType = "empty_album"

	// Link resolution failures
	ErrorTypeHopLimit       ErrorType = "hop_limit"
	ErrorTypeNoMedia        ErrorType = "no_media"
	ErrorTypeResolutionAPI  ErrorType = "resolution_api"
	ErrorTypeDecryptFailure ErrorType = "decrypt_failure"

	// Retrieval failures
	ErrorTypeBadStatus         ErrorType = "bad_status"
	ErrorTypeUnexpectedContent ErrorType = "unexpected_content"
	ErrorTypeTimeout           ErrorType = "timeout"

	// Local state failures
	ErrorTypeStore           ErrorType = "store"
	ErrorTypePathContainment ErrorType = "path_containment"
)

// Error represents a typed error with optional HTTP status code
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error without an HTTP status code
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// NewHTTP creates a typed error carrying an HTTP status code
func NewHTTP(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown for foreign errors
func TypeOf(err error) ErrorType {
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	case ErrorTypeInvalidURL, ErrorTypeNotFound, ErrorTypeParsing,
		ErrorTypeEmptyAlbum, ErrorTypeHopLimit, ErrorTypeNoMedia,
		ErrorTypeDecryptFailure, ErrorTypeUnexpectedContent,
		ErrorTypeStore, ErrorTypePathContainment:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
