package analyses

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores records in memory and is safe for concurrent use. It
// enforces the same one-record-per-application rule as the Postgres schema.
type MemoryRepo struct {
	mu    sync.Mutex
	byApp map[string]Record
	now   func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byApp: make(map[string]Record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) UpsertPending(ctx context.Context, applicationID, resumeID string) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	rec, ok := r.byApp[applicationID]
	if !ok {
		r.byApp[applicationID] = Record{
			ID:             uuid.NewString(),
			ApplicationID:  applicationID,
			ResumeID:       strPtr(resumeID),
			MatchingSkills: []string{},
			MissingSkills:  []string{},
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return UpsertInserted, nil
	}
	if IsTerminal(rec.Status) {
		return UpsertTerminal, nil
	}
	rec.ResumeID = strPtr(resumeID)
	rec.UpdatedAt = now
	r.byApp[applicationID] = rec
	return UpsertUpdated, nil
}

func (r *MemoryRepo) UpsertFailed(ctx context.Context, applicationID string, resumeID *string, errorMessage string) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	rec, ok := r.byApp[applicationID]
	result := UpsertUpdated
	if !ok {
		rec = Record{
			ID:             uuid.NewString(),
			ApplicationID:  applicationID,
			MatchingSkills: []string{},
			MissingSkills:  []string{},
			CreatedAt:      now,
		}
		result = UpsertInserted
	} else if IsTerminal(rec.Status) {
		return UpsertTerminal, nil
	}
	rec.ResumeID = copyStr(resumeID)
	rec.Status = StatusFailed
	rec.ErrorMessage = strPtr(errorMessage)
	rec.AnalyzedAt = &now
	rec.UpdatedAt = now
	r.byApp[applicationID] = rec
	return result, nil
}

func (r *MemoryRepo) Complete(ctx context.Context, applicationID string, out Outcome) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byApp[applicationID]
	if !ok || rec.Status != StatusPending {
		return false, nil
	}
	now := r.now()
	score := out.MatchScore
	rec.MatchScore = &score
	rec.MatchingSkills = copySkills(out.MatchingSkills)
	rec.MissingSkills = copySkills(out.MissingSkills)
	rec.Suggestions = strPtr(out.Suggestions)
	rec.Status = StatusCompleted
	rec.ErrorMessage = nil
	rec.AnalyzedAt = &now
	rec.UpdatedAt = now
	r.byApp[applicationID] = rec
	return true, nil
}

func (r *MemoryRepo) Fail(ctx context.Context, applicationID, errorMessage string, out *Outcome) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byApp[applicationID]
	if !ok || rec.Status != StatusPending {
		return false, nil
	}
	now := r.now()
	if out != nil {
		score := out.MatchScore
		rec.MatchScore = &score
		rec.Suggestions = strPtr(out.Suggestions)
	}
	rec.Status = StatusFailed
	rec.ErrorMessage = strPtr(errorMessage)
	rec.AnalyzedAt = &now
	rec.UpdatedAt = now
	r.byApp[applicationID] = rec
	return true, nil
}

func (r *MemoryRepo) GetByApplicationID(ctx context.Context, applicationID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byApp[applicationID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.MatchingSkills = copySkills(rec.MatchingSkills)
	rec.MissingSkills = copySkills(rec.MissingSkills)
	return rec, nil
}

// Count reports how many records are stored.
func (r *MemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byApp)
}

// DeleteByApplicationID removes the record of an application, mirroring the
// cascading foreign key in Postgres.
func (r *MemoryRepo) DeleteByApplicationID(applicationID string) {
	r.mu.Lock()
	delete(r.byApp, applicationID)
	r.mu.Unlock()
}

func strPtr(s string) *string {
	return &s
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copySkills(skills []string) []string {
	out := make([]string, len(skills))
	copy(out, skills)
	return out
}

var _ Repo = (*MemoryRepo)(nil)
