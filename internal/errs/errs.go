// Package errs defines the error taxonomy shared by every component.
// Errors carry a stable Kind so callers (and tests) can branch on
// errors.Is rather than on message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The string form is the stable taxonomy key
// used in log output.
type Kind string

const (
	BadArgument      Kind = "bad_argument"
	BadQuery         Kind = "bad_query"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	StoreUnavailable Kind = "store_unavailable"
	Timeout          Kind = "timeout"
	UpstreamFailure  Kind = "upstream_failure"
	PolicyViolation  Kind = "policy_violation"
)

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errs.New(kind, nil)) and KindOf comparisons work:
// two taxonomy errors match when their kinds match.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New wraps err with a taxonomy kind. A nil err produces a bare kind error.
func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
