package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the backend rejects the account credentials.
	ErrAuth = errors.New("transport: authentication rejected")

	// ErrTransport marks network failures, unexpected status codes and
	// undecodable bodies. Every *Error matches it with errors.Is.
	ErrTransport = errors.New("transport: request failed")
)

// Error describes one failed backend call.
type Error struct {
	Method string
	Path   string
	Status int // 0 when no response was received
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("transport: %s %s: HTTP %d: %v", e.Method, e.Path, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("transport: %s %s: unexpected HTTP %d", e.Method, e.Path, e.Status)
	default:
		return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
	}
}

// Unwrap exposes both ErrTransport and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}
