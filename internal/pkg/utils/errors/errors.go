// Package errors extends the standard errors package with stack traces, wrapping and multi-errors.
//
// All errors created by New, Errorf, Wrap and Wrapf carry a stack trace of the caller.
// Is, As and Unwrap are re-exported from the standard library, so the package can replace it.
package errors

import (
	stdErrors "errors"
	"fmt"

	pkgErrors "github.com/pkg/errors"
)

// StackTrace is stack of Frames from innermost (newest) to outermost (oldest).
type StackTrace = pkgErrors.StackTrace

type stackTracer interface {
	StackTrace() StackTrace
}

// wrappedError hides the cause message, only the new message is printed.
// The cause is still reachable by Unwrap, Is and As.
type wrappedError struct {
	msg   string
	cause error
	trace StackTrace
}

func (e *wrappedError) Error() string {
	return e.msg
}

func (e *wrappedError) Unwrap() error {
	return e.cause
}

func (e *wrappedError) StackTrace() StackTrace {
	return e.trace
}

func New(message string) error {
	return pkgErrors.New(message)
}

// Errorf formats the message the same way as fmt.Errorf, so the %w verb is supported.
func Errorf(format string, a ...any) error {
	return pkgErrors.WithStack(fmt.Errorf(format, a...)) // nolint: goerr113
}

// Wrap returns a new error with the message, the original error is hidden in the message but it is unwrappable.
func Wrap(err error, message string) error {
	return &wrappedError{msg: message, cause: err, trace: callers()}
}

func Wrapf(err error, format string, a ...any) error {
	return &wrappedError{msg: fmt.Sprintf(format, a...), cause: err, trace: callers()}
}

// WithStack adds a stack trace to the error, if it is not present.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var tracer stackTracer
	if As(err, &tracer) {
		return err
	}
	return pkgErrors.WithStack(err)
}

func Is(err, target error) bool {
	return stdErrors.Is(err, target)
}

func As(err error, target any) bool {
	return stdErrors.As(err, target)
}

func Unwrap(err error) error {
	return stdErrors.Unwrap(err)
}

func callers() StackTrace {
	// pkgErrors does not export the callers function, the frames are taken from a helper error
	var tracer stackTracer
	if As(pkgErrors.New(""), &tracer) {
		trace := tracer.StackTrace()
		if len(trace) > 2 {
			return trace[2:]
		}
		return trace
	}
	return nil
}
