package toolstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for toolstream. Use errors.Is to check.
var (
	ErrValidation = errors.New("validation failed")
	ErrMalformed  = errors.New("malformed tool call payload")
	ErrTimeout    = errors.New("parse budget exceeded")
	ErrShutdown   = errors.New("pool is shutting down")
)

// ValidationError reports a decoded structure that failed the tool's
// argument schema. Reason is safe to surface to developer-facing logs;
// it never reaches the chat user (failed spans are flushed as text).
// Err optionally wraps a sentinel (e.g. ErrValidation) for errors.Is.
type ValidationError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid tool arguments: %s", e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %q: %s", e.Tool, e.Reason)
}

// Unwrap supports errors.Is/errors.As on wrapped chains.
func (e *ValidationError) Unwrap() error { return e.Err }

// SystemError represents an internal failure inside one decode job
// (panic, validator fault). The fault is isolated to that job.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal error during tool call decode"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// panicError wraps a recovered panic value for SystemError; used by the
// pool's recovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
