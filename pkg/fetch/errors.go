package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotBroadcasting reports that the room exists but is not currently live.
var ErrNotBroadcasting = errors.New("room is not broadcasting")

// TransportError wraps a transport failure with enough context for the
// supervisor to pick a transition. Transient failures (network drop, 502,
// idle close) drive the reconnect path; fatal ones stop the room.
type TransportError struct {
	Transient bool
	Status    int
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport failure (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a recoverable transport failure.
func NewTransientError(err error) *TransportError {
	return &TransportError{Transient: true, Err: err}
}

// NewFatalError wraps err as an unrecoverable transport failure.
func NewFatalError(err error) *TransportError {
	return &TransportError{Transient: false, Err: err}
}

// NewStatusError classifies an HTTP status. Gateway errors are transient by
// contract; auth rejections are fatal.
func NewStatusError(status int, err error) *TransportError {
	transient := true
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		transient = false
	}
	return &TransportError{Transient: transient, Status: status, Err: err}
}

// IsTransient reports whether err is a recoverable transport failure.
// Unclassified errors are treated as transient so a flaky network never
// permanently stops a room.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Transient
	}
	return true
}

// StatusCode extracts the HTTP status from a transport error, 0 if absent.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
