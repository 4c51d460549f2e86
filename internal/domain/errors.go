package domain

import "errors"

// ErrorKind classifies failures surfaced by the guard and the engine.
type ErrorKind string

const (
	ErrorKindNotFound            ErrorKind = "not_found"
	ErrorKindInvalidState        ErrorKind = "invalid_state"
	ErrorKindConcurrencyConflict ErrorKind = "concurrency_conflict"
	ErrorKindQualityRejected     ErrorKind = "quality_rejected"
	ErrorKindProviderFailure     ErrorKind = "provider_failure"
	ErrorKindUnknownFailure      ErrorKind = "unknown_failure"
)

// Error is a kind-tagged failure. Its message is reported verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a kind-tagged error with no underlying cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError tags err with kind, keeping err's message.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// KindOf returns the kind of the first tagged error in err's chain, or "" for untagged errors.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
