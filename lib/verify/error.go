package verify

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidRequest = errors.New("verify: invalid request")
	ErrNotFound       = errors.New("verify: no matching pending challenge")
	ErrExpired        = errors.New("verify: challenge expired")
	ErrNoChecker      = errors.New("verify: no checker registered for method")
)

// NewError wraps privateReason for the caller. PublicReason is a localization
// message ID that is safe to show to users; PrivateReason only goes to logs.
func NewError(verb, publicReason string, privateReason error, statusCode int) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    statusCode,
	}
}

type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("verify: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}

func invalidRequest(verb, publicReason string, err error) *Error {
	return NewError(verb, publicReason, fmt.Errorf("%w: %w", ErrInvalidRequest, err), http.StatusBadRequest)
}
