package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Error is the structured error type used across the vault client.
// It carries a code for classification, the HTTP status that produced it (if any),
// and optional key/value context that never includes secret material.
type Error struct {
	// Code classifies the error.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Status is the HTTP status code reported by the server, or 0.
	Status int

	// Context holds debugging metadata such as paths and addresses.
	Context map[string]any

	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithStatus returns a copy of e carrying the given HTTP status.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil if err is nil.
// The HTTP status of the wrapped error, if any, is carried forward.
func Wrap(err error, code ErrorCode, message string) error {
	return WrapWithContext(err, code, message, nil)
}

// WrapWithContext wraps err with a code, message and debugging context.
// It returns nil if err is nil.
func WrapWithContext(err error, code ErrorCode, message string, context map[string]any) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Status:  StatusOf(err),
		Context: context,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost Error in err's chain,
// or CodeUnknown if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// StatusOf returns the first non-zero HTTP status found in err's chain.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return 0
}

// Is reports whether any Error in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether err is transient and worth another attempt.
// The innermost classified cause decides, so wrapping a network error in
// CodeFetchFailed keeps it retryable. An error that already ran out of
// retries (CodeRetriesExhausted anywhere in the chain) is never retryable.
func IsRetryable(err error) bool {
	code := CodeUnknown
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			break
		}
		if e.Code == CodeRetriesExhausted {
			return false
		}
		code = e.Code
		err = e.Err
	}
	return code.Retryable()
}
