package models

import "errors"

// Error kinds surfaced by storage and the exchange core. They are always
// wrapped with context; match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrState      = errors.New("operation not allowed in current state")
	ErrConflict   = errors.New("concurrent modification")
)
