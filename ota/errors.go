package ota

import (
	"errors"
	"fmt"
)

// Kind classifies why an update attempt failed. Failures are never retried
// automatically, a new request has to be sent.
type Kind int

const (
	ImageNotFound Kind = iota + 1
	SameAsInvalid
	HTTPError
	FlashWriteFailure
	IncompleteImage
	OtaAPIError
	CredentialsError
)

func (k Kind) String() string {
	switch k {
	case ImageNotFound:
		return "image-not-found"
	case SameAsInvalid:
		return "same-as-invalid"
	case HTTPError:
		return "http-error"
	case FlashWriteFailure:
		return "flash-write-failure"
	case IncompleteImage:
		return "incomplete-image"
	case OtaAPIError:
		return "ota-api-error"
	case CredentialsError:
		return "credentials-error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "ota: " + e.Kind.String()
	}
	return fmt.Sprintf("ota: %v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}
