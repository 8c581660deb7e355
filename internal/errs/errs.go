// Package errs defines the error kinds surfaced by the driver core across
// transport, crypto, and action-FSM failures (spec section 7).
package errs

import "fmt"

// Kind classifies a driver error for callers that need to branch on it
// (e.g. a libfprint-style frontend deciding whether to retry).
type Kind string

const (
	IO           Kind = "IO"
	Timeout      Kind = "TIMEOUT"
	Proto        Kind = "PROTO"
	DataInvalid  Kind = "DATA_INVALID"
	DataFull     Kind = "DATA_FULL"
	DataNotFound Kind = "DATA_NOT_FOUND"
	DataDup      Kind = "DATA_DUPLICATE"
	Cancelled    Kind = "CANCELLED"
	General      Kind = "GENERAL"
)

// Error wraps a Kind with a message and optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Diag carries host-side diagnostic context collected at the time the
	// error was raised (internal/diag). It is nil unless a collaborator
	// asked for diagnostics (see internal/diag.Snapshot).
	Diag fmt.Stringer
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that chains an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDiag attaches host-side diagnostic context to an existing error and
// returns it, for chaining at the call site.
func (e *Error) WithDiag(d fmt.Stringer) *Error {
	e.Diag = d
	return e
}

// Is allows errors.Is(err, errs.New(errs.DataFull, "")) style kind
// comparisons: it matches any *Error target with the same Kind. Callers
// typically use KindOf(err) == errs.DataFull instead, but this keeps
// errors.Is usable.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err, defaulting to General if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return General
	}
	return e.Kind
}
