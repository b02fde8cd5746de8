package applications

import (
	"context"
	"time"
)

// Repo defines persistence operations for applications.
type Repo interface {
	Create(ctx context.Context, app Application) error
	// GetByID looks an application up regardless of owner.
	GetByID(ctx context.Context, id string) (Application, error)
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Application, error)
	// Update overwrites the editable fields of an application owned by
	// app.UserID and returns the stored row.
	Update(ctx context.Context, app Application) (Application, error)
	UpdateStatus(ctx context.Context, userID, id, status string, at time.Time) (Application, error)
	Delete(ctx context.Context, userID, id string) error
}
