package registry

import (
	"errors"

	"github.com/trymwestin/fenotek/internal/core/transport"
)

var (
	// ErrAuth is returned by Setup when the credentials are rejected.
	ErrAuth              = transport.ErrAuth
	ErrUnknownAccount    = errors.New("unknown account")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrAlreadyRegistered = errors.New("account already registered")
)
