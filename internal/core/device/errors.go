package device

import "errors"

var (
	ErrUnknownRelay = errors.New("unknown relay")
	ErrUnknownKind  = errors.New("unknown view")
)
