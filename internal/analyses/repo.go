package analyses

import "context"

// Repo defines persistence operations for analysis records. Implementations
// keep at most one record per application and never move a terminal record
// back to pending.
type Repo interface {
	// UpsertPending inserts a pending record or refreshes the resume of an
	// existing pending one.
	UpsertPending(ctx context.Context, applicationID, resumeID string) (UpsertResult, error)
	// UpsertFailed inserts a failed record or fails an existing pending one.
	UpsertFailed(ctx context.Context, applicationID string, resumeID *string, errorMessage string) (UpsertResult, error)
	// Complete stores the outcome on a pending record. It reports false when
	// the record was not pending.
	Complete(ctx context.Context, applicationID string, out Outcome) (bool, error)
	// Fail marks a pending record failed. A non-nil outcome is stored as well.
	Fail(ctx context.Context, applicationID, errorMessage string, out *Outcome) (bool, error)
	GetByApplicationID(ctx context.Context, applicationID string) (Record, error)
}
