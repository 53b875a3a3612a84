// Package apperrors provides a tagged application error used to classify
// which part of the error taxonomy (startup vs. per-request) an error
// belongs to, so callers can branch on Code without string matching.
package apperrors

import "fmt"

// Error codes corresponding to the error taxonomy: startup errors are the
// only class that causes the process to exit; every other code is recovered
// locally by the proxy engine or the stream guard.
const (
	CodeStartup    = "STARTUP"     // invalid CLI flags or flag values
	CodeConnect    = "CONNECT"     // outbound connect/header-phase failure
	CodeBodyStream = "BODY_STREAM" // outbound body-phase failure (reset, idle timeout)
	CodeNoUpstream = "NO_UPSTREAM" // selector found nothing eligible
	CodeInternal   = "INTERNAL"    // recovered panic or invariant violation
)

// AppError is a code-tagged error that can wrap an underlying cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with no underlying cause.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates a new AppError tagging an underlying cause with a code.
func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}
