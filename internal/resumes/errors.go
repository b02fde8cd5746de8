package resumes

import "errors"

var (
	// ErrNotFound indicates the resume does not exist for the caller.
	ErrNotFound = errors.New("resume not found")
	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
