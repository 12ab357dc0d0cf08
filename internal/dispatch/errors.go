package dispatch

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress is recorded for contacts whose email has no "@".
var ErrInvalidAddress = errors.New("invalid email address")

// TransportError means the session could not be opened or authenticated.
// Nothing was sent and no report exists.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RecipientError is the failure of a single recipient. It only ever
// appears inside a report.
type RecipientError struct {
	Email string
	Err   error
}

func (e *RecipientError) Error() string {
	return e.Err.Error()
}

func (e *RecipientError) Unwrap() error {
	return e.Err
}
