package errors

import (
	"fmt"
	"strings"
)

// prefixedError is printed as "prefix: message", the wrapped error is unwrappable.
type prefixedError struct {
	prefix string
	err    error
	trace  StackTrace
}

func (e *prefixedError) Error() string {
	msg := e.err.Error()
	if strings.Contains(msg, "\n") {
		return strings.TrimRight(e.prefix, ".,:") + ":\n" + msg
	}
	return strings.TrimRight(e.prefix, ".,:") + ": " + msg
}

func (e *prefixedError) Unwrap() error {
	return e.err
}

func (e *prefixedError) StackTrace() StackTrace {
	return e.trace
}

func PrefixError(err error, prefix string) error {
	if err == nil {
		panic(New("error cannot be nil"))
	}
	return &prefixedError{prefix: prefix, err: err, trace: callers()}
}

func PrefixErrorf(err error, format string, a ...any) error {
	if err == nil {
		panic(New("error cannot be nil"))
	}
	return &prefixedError{prefix: fmt.Sprintf(format, a...), err: err, trace: callers()}
}
