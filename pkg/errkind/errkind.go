// Package errkind defines the typed error taxonomy shared by every
// docindex component, following the same Op+Err wrapping shape the
// teacher repo uses for its own package-local error types.
package errkind

import "fmt"

// Kind is one of the error categories named in the system's error design.
type Kind string

const (
	Transport        Kind = "transport_error"
	NotFound         Kind = "not_found"
	Unsupported      Kind = "unsupported"
	ExtractionFailed Kind = "extraction_failed"
	ModelErr         Kind = "model_error"
	IndexErr         Kind = "index_error"
	AuthDenied       Kind = "auth_denied"
	SchemaErr        Kind = "schema_error"
	OutOfRoot        Kind = "out_of_root"
)

// Error wraps an underlying cause with a Kind and the operation that
// produced it, so callers can branch on Kind without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
