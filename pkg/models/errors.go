package models

import "errors"

// Error kinds surfaced by the sensor core. Stores and managers wrap
// these sentinels so callers can branch with errors.Is.
var (
	// ErrNotFound means an id did not resolve. Surfaced to callers,
	// never fatal.
	ErrNotFound = errors.New("not found")

	// ErrValidation means bad input (e.g. an unparseable MAC address).
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a unique-constraint violation on insert.
	ErrConflict = errors.New("conflict")
)
