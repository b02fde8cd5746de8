// Package cache provides the best-effort cache-aside layer used by the analysis
// worker. Backends never surface errors: an unavailable backend behaves as a
// permanent miss.
package cache

import (
	"context"
	"sync"
	"time"
)

// Backend is a key/value store with TTL. Implementations must swallow their own
// failures; Get reports a miss and Set/Delete become no-ops.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// NoopBackend never stores anything.
type NoopBackend struct{}

func (NoopBackend) Get(context.Context, string) ([]byte, bool)        { return nil, false }
func (NoopBackend) Set(context.Context, string, []byte, time.Duration) {}
func (NoopBackend) Delete(context.Context, string)                     {}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend stores entries in process memory and is safe for concurrent use.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the stored value if present and not expired.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return append([]byte(nil), entry.value...), true
}

// Set stores value under key. A non-positive ttl keeps the entry until deleted.
func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ctx.Err() != nil {
		return
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

// Delete removes key.
func (m *MemoryBackend) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var (
	_ Backend = NoopBackend{}
	_ Backend = (*MemoryBackend)(nil)
)
