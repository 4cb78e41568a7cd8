package provider

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned before any network call when no API key is
// available. It is deliberately not an *Error: a missing credential is a
// configuration problem, not a classified provider failure.
var ErrNotConfigured = errors.New("no API key configured")

// Kind identifies a class of enhancement failure.
type Kind string

const (
	KindKeyInvalid        Kind = "key-invalid"
	KindPermissionDenied  Kind = "permission-denied"
	KindBadRequest        Kind = "bad-request"
	KindResourceExhausted Kind = "resource-exhausted"
	KindTextOnly          Kind = "model-returned-text-only"
	KindNoImageData       Kind = "no-image-data"
	KindInternal          Kind = "internal-error"
	KindUnknown           Kind = "unknown"
)

// Error is a classified enhancement failure. Detail carries free-form
// payload, e.g. the text the model returned instead of an image.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Recoverable reports whether rephrasing the prompt may succeed where this
// attempt failed.
func (e *Error) Recoverable() bool {
	return e.Kind == KindTextOnly
}

// statusFor maps each kind to the HTTP status the API layer surfaces it with.
func statusFor(kind Kind) int {
	switch kind {
	case KindKeyInvalid:
		return 401
	case KindPermissionDenied:
		return 403
	case KindBadRequest:
		return 400
	case KindResourceExhausted:
		return 429
	case KindTextOnly:
		return 422
	case KindInternal:
		return 500
	default:
		return 502
	}
}

func newError(kind Kind, message, detail string) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusFor(kind),
		Message:    message,
		Detail:     detail,
	}
}

// AsError unwraps err into a classified *Error if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
