package core

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier callers can branch on.
type Code string

const (
	// CodeUnknownAdapter is returned when no factory is registered for a name.
	CodeUnknownAdapter Code = "unknown_adapter"
	// CodeDuplicateAdapter is returned when a name is registered twice.
	CodeDuplicateAdapter Code = "duplicate_adapter"
	// CodeClosedThread is returned by operations on a closed thread.
	CodeClosedThread Code = "closed_thread"
	// CodeUnknownThread is returned when a backend cannot locate a thread id.
	CodeUnknownThread Code = "unknown_thread"
	// CodeThreadBusy is returned when a run is issued while another is in flight.
	CodeThreadBusy Code = "thread_busy"
	// CodeInterrupted marks an operation that ended because it was cancelled.
	CodeInterrupted Code = "interrupted"
	// CodeStructuredOutput marks output that did not satisfy the requested schema.
	CodeStructuredOutput Code = "structured_output"
	// CodeBackend is the open-ended category for provider-native failures.
	CodeBackend Code = "backend_error"
)

// Error is the error type used across the contract. Two errors match with
// errors.Is when their codes are equal, so the sentinels below can be used
// as comparison targets for any wrapped instance.
type Error struct {
	Code    Code
	Message string
	// Err is the underlying cause (backend error, parse error, ...).
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("headlesscoder: %s: %v", msg, e.Err)
	}
	return "headlesscoder: " + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors usable with errors.Is.
var (
	ErrUnknownAdapter   = &Error{Code: CodeUnknownAdapter, Message: "unknown adapter"}
	ErrDuplicateAdapter = &Error{Code: CodeDuplicateAdapter, Message: "adapter already registered"}
	ErrClosedThread     = &Error{Code: CodeClosedThread, Message: "thread is closed"}
	ErrUnknownThread    = &Error{Code: CodeUnknownThread, Message: "unknown thread"}
	ErrThreadBusy       = &Error{Code: CodeThreadBusy, Message: "thread already running"}
	ErrInterrupted      = &Error{Code: CodeInterrupted, Message: "interrupted"}
	ErrStructuredOutput = &Error{Code: CodeStructuredOutput, Message: "structured output did not match schema"}
	ErrBackend          = &Error{Code: CodeBackend, Message: "backend error"}
	ErrSignalCycle      = errors.New("headlesscoder: linking signals would create a cycle")
)

// NewError builds an *Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with code unless it already carries a code, in which
// case it is returned unchanged.
func WrapError(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Interrupted builds an interrupted error with the abort reason.
func Interrupted(reason string) *Error {
	if reason == "" {
		reason = "interrupted"
	}
	return &Error{Code: CodeInterrupted, Message: reason}
}

// CodeOf returns the code carried by err. Context cancellation maps to
// CodeInterrupted; any other uncoded error maps to CodeBackend. nil yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeInterrupted
	}
	return CodeBackend
}
