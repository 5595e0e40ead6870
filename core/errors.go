package core

import "github.com/pkg/errors"

// Kind classifies domain errors so callers can branch (and the API layer can
// map to status codes) without inspecting error strings.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidTransition  Kind = "invalid_transition"
	KindAlreadyReviewed    Kind = "already_reviewed"
	KindPermissionDenied   Kind = "permission_denied"
	KindValidationFailed   Kind = "validation_failed"
	KindConflictingVersion Kind = "conflicting_version"
)

// Error is a kinded domain error. PermKey carries the failing permission key
// on KindPermissionDenied errors.
type Error struct {
	Kind    Kind
	Message string
	PermKey string
}

func (e *Error) Error() string { return e.Message }

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NewPermissionError(permKey string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: "permission denied", PermKey: permKey}
}

// ErrKind returns the Kind of err, unwrapping pkg/errors causes; "" if err is
// not a kinded domain error.
func ErrKind(err error) Kind {
	if kerr, ok := errors.Cause(err).(*Error); ok {
		return kerr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return ErrKind(err) == kind
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
