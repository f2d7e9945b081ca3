package coordinator

import (
	"errors"
	"fmt"
)

// ErrRefreshFailed marks a refresh cycle that did not complete.
var ErrRefreshFailed = errors.New("refresh failed")

// RefreshFailure wraps the error that aborted a cycle with the account it
// belongs to.
type RefreshFailure struct {
	Account string
	Err     error
}

func (e *RefreshFailure) Error() string {
	return fmt.Sprintf("error fetching fenotek %s data: %v", e.Account, e.Err)
}

func (e *RefreshFailure) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}
