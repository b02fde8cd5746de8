package applications

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores applications in memory.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Application

	// OnDelete, when set, runs after an application is removed. It stands in
	// for the cascading foreign keys of the Postgres schema.
	OnDelete func(id string)
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Application)}
}

func (r *MemoryRepo) Create(ctx context.Context, app Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[app.ID] = app
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byID[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Application, error) {
	r.mu.RLock()
	apps := []Application{}
	for _, app := range r.byID {
		if app.UserID == userID && filter.matches(app) {
			apps = append(apps, app)
		}
	}
	r.mu.RUnlock()

	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].DateApplied.Equal(apps[j].DateApplied) {
			return apps[i].DateApplied.After(apps[j].DateApplied)
		}
		return apps[i].CreatedAt.After(apps[j].CreatedAt)
	})
	return apps, nil
}

func (r *MemoryRepo) Update(ctx context.Context, app Application) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[app.ID]
	if !ok || cur.UserID != app.UserID {
		return Application{}, ErrNotFound
	}
	app.CreatedAt = cur.CreatedAt
	r.byID[app.ID] = app
	return app, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, userID, id, status string, at time.Time) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.byID[id]
	if !ok || app.UserID != userID {
		return Application{}, ErrNotFound
	}
	app.Status = status
	app.UpdatedAt = at
	r.byID[id] = app
	return app, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	app, ok := r.byID[id]
	if !ok || app.UserID != userID {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.byID, id)
	r.mu.Unlock()

	if r.OnDelete != nil {
		r.OnDelete(id)
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
