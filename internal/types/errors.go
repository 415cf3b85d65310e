package types

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("requested item not found")

	// ErrConflict is returned when a state transition lost against a
	// concurrent update (the row no longer matched the expected status).
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("invalid input")
)
