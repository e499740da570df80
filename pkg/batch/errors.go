package batch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Severity says whether an error stops the worker that observed it.
type Severity int

const (
	// Recoverable errors are recorded and counted; processing continues.
	Recoverable Severity = iota
	// Fatal errors stop the observing worker. Sibling workers keep running.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error codes.
const (
	CodeNotFound          = "INPUT_NOT_FOUND"
	CodeReadFailed        = "INPUT_READ_FAILED"
	CodeOpenFailed        = "INPUT_OPEN_FAILED"
	CodeCloseFailed       = "INPUT_CLOSE_FAILED"
	CodeClosed            = "INPUT_CLOSED"
	CodeFormat            = "LINE_FORMAT"
	CodeProcessing        = "LINE_PROCESSING"
	CodeSkipLimitExceeded = "OVER_SKIP_LIMIT"
	CodeCancelled         = "CANCELLED"
	CodeUnexpected        = "UNEXPECTED"
)

var (
	// ErrSourceTruncated is returned when a source is shorter than the offset
	// a reader needs to resume from.
	ErrSourceTruncated = errors.New("source shorter than resume offset")

	// ErrSourceChanged is returned when a source's identity (ETag) differs
	// from the one observed when it was first opened.
	ErrSourceChanged = errors.New("source changed since first open")

	// ErrReaderClosed is returned by reads on a closed reader.
	ErrReaderClosed = errors.New("reader is closed")
)

// Error is a batch error with a code, a templated message and a severity.
//
// Message may contain {0}, {1}, ... placeholders that are replaced by Args
// when the error is formatted.
type Error struct {
	Code     string
	Message  string
	Args     []string
	Severity Severity
	Cause    error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Text()
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Text returns the message with its placeholders expanded.
func (e *Error) Text() string {
	msg := e.Message
	for i, a := range e.Args {
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{%d}", i), a)
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error stops the observing worker.
func (e *Error) IsFatal() bool {
	return e.Severity == Fatal
}

// NewError creates an Error.
func NewError(code, message string, severity Severity, cause error, args ...string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Args:     args,
		Severity: severity,
		Cause:    cause,
	}
}

// AsError extracts a *Error from err. Errors that carry no classification are
// wrapped as fatal CodeUnexpected errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return NewError(CodeUnexpected, "Unexpected error: {0}", Fatal, err, err.Error())
}

// Processing returns a domain processing error with the given severity.
func Processing(severity Severity, cause error, format string, args ...any) *Error {
	return NewError(CodeProcessing, fmt.Sprintf(format, args...), severity, cause)
}

func errNotFound(name string, cause error) *Error {
	return NewError(CodeNotFound, "Input {0} not found", Fatal, cause, name)
}

func errOpenFailed(name string, cause error) *Error {
	return NewError(CodeOpenFailed, "Failed to open input {0}", Fatal, cause, name)
}

func errReadFailed(name string, tries int, cause error) *Error {
	return NewError(CodeReadFailed, "Failed reading from {0} after {1} tries", Fatal, cause,
		name, fmt.Sprint(tries))
}

func errCloseFailed(name string, cause error) *Error {
	return NewError(CodeCloseFailed, "Failed to close input {0}", Fatal, cause, name)
}

func errClosed(name string) *Error {
	return NewError(CodeClosed, "Input {0} is closed", Fatal, ErrReaderClosed, name)
}

// FormatError returns a recoverable error for a line that could not be parsed.
func FormatError(raw string, cause error) *Error {
	return NewError(CodeFormat, "Malformed line: {0}", Recoverable, cause, truncate(raw, 120))
}

func errSkipLimit(limit int) *Error {
	return NewError(CodeSkipLimitExceeded, "Exceeded skip limit of {0}", Fatal, nil, fmt.Sprint(limit))
}

func errPanic(hook string, v any) *Error {
	return NewError(CodeUnexpected, "Panic in {0}: {1}", Fatal, fmt.Errorf("panic: %v", v), hook, fmt.Sprint(v))
}

func errCancelled(cause error) *Error {
	return NewError(CodeCancelled, "Batch cancelled", Fatal, cause)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
