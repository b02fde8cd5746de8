package analyses

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrNotAvailable means no analysis exists yet for the application.
	ErrNotAvailable = errors.New("analysis not available")
)

// ErrorCodeNotAvailable is the HTTP error code for ErrNotAvailable.
const ErrorCodeNotAvailable = "analysis_not_available"
