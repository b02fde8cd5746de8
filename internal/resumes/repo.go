package resumes

import (
	"context"
	"time"
)

// Repo defines persistence operations for resumes. Create and Activate keep
// at most one active resume per user.
type Repo interface {
	Create(ctx context.Context, resume Resume) error
	GetByID(ctx context.Context, userID, id string) (Resume, error)
	// GetActive returns ErrNotFound when the user has no active resume.
	GetActive(ctx context.Context, userID string) (Resume, error)
	ListByUser(ctx context.Context, userID string) ([]Resume, error)
	Activate(ctx context.Context, userID, id string, at time.Time) (Resume, error)
	Delete(ctx context.Context, userID, id string) (Resume, error)
}
