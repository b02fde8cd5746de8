package cache

import (
	"context"
	"encoding/json"
	"time"

	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/telemetry"
	"jobtracker-backend/internal/shared/util"
)

const (
	DefaultResumeTTL   = time.Hour
	DefaultAnalysisTTL = 24 * time.Hour

	activeResumePrefix = "active_resume:"
	matchResultPrefix  = "ai_analysis:"
)

// ActiveResume is the cached snapshot of a user's active resume.
type ActiveResume struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MatchResult is the cached payload of a computed analysis. It is a pure
// function of resume content and job description text.
type MatchResult struct {
	MatchScore     int      `json:"match_score"`
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Suggestions    string   `json:"suggestions"`
}

// Cache gives typed access to the two snapshot kinds on top of a Backend.
type Cache struct {
	backend     Backend
	resumeTTL   time.Duration
	analysisTTL time.Duration
}

// New constructs a Cache. A nil backend behaves like NoopBackend and
// non-positive TTLs fall back to the defaults.
func New(backend Backend, resumeTTL, analysisTTL time.Duration) *Cache {
	if backend == nil {
		backend = NoopBackend{}
	}
	if resumeTTL <= 0 {
		resumeTTL = DefaultResumeTTL
	}
	if analysisTTL <= 0 {
		analysisTTL = DefaultAnalysisTTL
	}
	return &Cache{backend: backend, resumeTTL: resumeTTL, analysisTTL: analysisTTL}
}

// ActiveResumeKey returns the cache key of a user's active resume snapshot.
func ActiveResumeKey(userID string) string {
	return activeResumePrefix + userID
}

// MatchResultKey returns the cache key of an analysis result for a resume and job description.
func MatchResultKey(resumeID, jobDescription string) string {
	return matchResultPrefix + resumeID + ":" + util.ContentHash(jobDescription)
}

// ActiveResume returns the cached active resume for userID.
func (c *Cache) ActiveResume(ctx context.Context, userID string) (ActiveResume, bool) {
	var snap ActiveResume
	if !c.getJSON(ctx, ActiveResumeKey(userID), &snap) || snap.ID == "" {
		return ActiveResume{}, false
	}
	return snap, true
}

// SetActiveResume stores the active resume snapshot for userID.
func (c *Cache) SetActiveResume(ctx context.Context, userID string, snap ActiveResume) {
	c.setJSON(ctx, ActiveResumeKey(userID), snap, c.resumeTTL)
}

// InvalidateActiveResume drops the active resume snapshot for userID.
func (c *Cache) InvalidateActiveResume(ctx context.Context, userID string) {
	c.backend.Delete(ctx, ActiveResumeKey(userID))
	telemetry.Info("cache.active_resume.invalidated", map[string]any{"user_id": userID})
}

// MatchResult returns the cached analysis for (resumeID, jobDescription).
func (c *Cache) MatchResult(ctx context.Context, resumeID, jobDescription string) (MatchResult, bool) {
	var res MatchResult
	if !c.getJSON(ctx, MatchResultKey(resumeID, jobDescription), &res) {
		return MatchResult{}, false
	}
	return res, true
}

// SetMatchResult stores an analysis for (resumeID, jobDescription).
func (c *Cache) SetMatchResult(ctx context.Context, resumeID, jobDescription string, res MatchResult) {
	c.setJSON(ctx, MatchResultKey(resumeID, jobDescription), res, c.analysisTTL)
}

func (c *Cache) getJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := c.backend.Get(ctx, key)
	if !ok {
		metrics.IncCacheMiss()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// Corrupt entries are dropped so the next read repopulates them.
		telemetry.Warn("cache.decode_failed", map[string]any{"key": key, "error": err})
		c.backend.Delete(ctx, key)
		metrics.IncCacheMiss()
		return false
	}
	metrics.IncCacheHit()
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, val any, ttl time.Duration) {
	raw, err := json.Marshal(val)
	if err != nil {
		telemetry.Warn("cache.encode_failed", map[string]any{"key": key, "error": err})
		return
	}
	c.backend.Set(ctx, key, raw, ttl)
}
