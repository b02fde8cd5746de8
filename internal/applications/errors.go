package applications

import "errors"

var (
	// ErrNotFound indicates the application does not exist for the caller.
	ErrNotFound = errors.New("application not found")
	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
