// Package errors provides the error taxonomy shared by the vault client packages.
// It extends Go's standard error handling with structured error codes, HTTP status
// preservation, retry classification and context for debugging.
package errors

// ErrorCode represents a specific error condition in the vault client.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Validation errors.

	// CodeInvalidInput indicates malformed login options or watch entries.
	// These errors are surfaced immediately and never retried.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Permission errors.

	// CodeUnauthorized indicates rejected credentials or a missing/expired session.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the session token lacks permission for the path.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// Resource errors.

	// CodeNotFound indicates a requested path or cache address does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// Infrastructure errors.

	// CodeNetwork indicates a connection, timeout or transport-level failure.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeRateLimit indicates the server asked the client to slow down (HTTP 429).
	CodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeUnavailable indicates the server answered with a 5xx status.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Execution errors.

	// CodeFetchFailed indicates a secret fetch ended in a terminal failure.
	CodeFetchFailed ErrorCode = "FETCH_FAILED"

	// CodeRetriesExhausted indicates the backoff policy gave up.
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// System errors.

	// CodeInternal indicates an internal error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Retryable reports whether errors carrying this code are transient.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeNetwork, CodeRateLimit, CodeUnavailable:
		return true
	default:
		return false
	}
}

// CodeForStatus maps an HTTP status code returned by the server to an ErrorCode.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == 400:
		return CodeInvalidInput
	case status == 401:
		return CodeUnauthorized
	case status == 403:
		return CodeForbidden
	case status == 404:
		return CodeNotFound
	case status == 429:
		return CodeRateLimit
	case status >= 500:
		return CodeUnavailable
	case status == 0:
		return CodeNetwork
	default:
		return CodeUnknown
	}
}
