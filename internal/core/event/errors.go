package event

import (
	"errors"
	"fmt"
)

// ErrClassification marks a notification that cannot be classified. It
// signals protocol drift and is never defaulted away.
var ErrClassification = errors.New("event: classification failed")

// ClassificationError names the offending notification and field.
type ClassificationError struct {
	ID    string
	Field string
	Value string
	Err   error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event: notification %s: invalid %s %q: %v", e.ID, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("event: notification %s: unknown %s %q", e.ID, e.Field, e.Value)
}

func (e *ClassificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrClassification}
	}
	return []error{ErrClassification, e.Err}
}
