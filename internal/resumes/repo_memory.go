package resumes

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores resumes in memory.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Resume
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Resume)}
}

func (r *MemoryRepo) Create(ctx context.Context, resume Resume) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resume.IsActive {
		r.deactivateLocked(resume.UserID, resume.ID, resume.CreatedAt)
	}
	resume.UpdatedAt = resume.CreatedAt
	r.byID[resume.ID] = resume
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, userID, id string) (Resume, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byID[id]
	if !ok || res.UserID != userID {
		return Resume{}, ErrNotFound
	}
	return res, nil
}

func (r *MemoryRepo) GetActive(ctx context.Context, userID string) (Resume, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.byID {
		if res.UserID == userID && res.IsActive {
			return res, nil
		}
	}
	return Resume{}, ErrNotFound
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Resume, error) {
	r.mu.RLock()
	out := []Resume{}
	for _, res := range r.byID {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Activate(ctx context.Context, userID, id string, at time.Time) (Resume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok || res.UserID != userID {
		return Resume{}, ErrNotFound
	}
	r.deactivateLocked(userID, id, at)
	res.IsActive = true
	res.UpdatedAt = at
	r.byID[id] = res
	return res, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, id string) (Resume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok || res.UserID != userID {
		return Resume{}, ErrNotFound
	}
	delete(r.byID, id)
	return res, nil
}

func (r *MemoryRepo) deactivateLocked(userID, keepID string, at time.Time) {
	for id, res := range r.byID {
		if res.UserID == userID && id != keepID && res.IsActive {
			res.IsActive = false
			res.UpdatedAt = at
			r.byID[id] = res
		}
	}
}

var _ Repo = (*MemoryRepo)(nil)
