// Package ctlogerrors defines the error-kind taxonomy shared by the
// Manager and Worker: transient network failures, permanent fetch
// rejections, parse failures, upload rejections, and fatal local
// errors. Callers test an error's Kind with this package's Is, or take
// the *Error out with errors.As, rather than a custom exception
// hierarchy.
package ctlogerrors

import "errors"

// Kind classifies an error for retry/propagation decisions.
type Kind int

const (
	KindTransientNetwork Kind = iota
	KindPermanentFetch
	KindParseError
	KindUploadRejected
	KindDuplicateConstraint
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "TransientNetwork"
	case KindPermanentFetch:
		return "PermanentFetch"
	case KindParseError:
		return "ParseError"
	case KindUploadRejected:
		return "UploadRejected"
	case KindDuplicateConstraint:
		return "DuplicateConstraintViolation"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
