package errors

import "fmt"

// Kind classifies an application-level error
type Kind int

const (
	ErrInternal Kind = iota
	ErrNotFound
	ErrValidation
	ErrStateConflict
	ErrCapacity
	ErrPartialFailure
)

// Error is an application-level error with a kind for classification.
// PartialFailure errors additionally carry the setup stage that failed.
type Error struct {
	Kind    Kind
	Message string
	Stage   string // set for ErrPartialFailure only
	Err     error  // underlying error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage: %s)", msg, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Constructor functions for common error types

func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// StateConflict marks a transition attempted from an unexpected current
// state. The caller must re-read and retry or abort; it is never retried
// automatically.
func StateConflict(msg string) *Error {
	return &Error{Kind: ErrStateConflict, Message: msg}
}

func StateConflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrStateConflict, Message: fmt.Sprintf(format, args...)}
}

// Capacity marks an allocation request exceeding the available slots
func Capacity(msg string) *Error {
	return &Error{Kind: ErrCapacity, Message: msg}
}

func Capacityf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrCapacity, Message: fmt.Sprintf(format, args...)}
}

// PartialFailure marks a multi-record setup operation that failed partway.
// Already-written records are not rolled back; the stage tells the
// operator where to resume or reset from.
func PartialFailure(stage string, err error) *Error {
	return &Error{Kind: ErrPartialFailure, Message: "setup failed partway", Stage: stage, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: ErrInternal, Message: "internal error", Err: err}
}

func Internalf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with additional context
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
