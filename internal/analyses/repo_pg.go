package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *PGRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// UpsertPending relies on the unique application_id constraint. The conflict
// update only applies to pending rows, so a terminal row returns no row.
func (r *PGRepo) UpsertPending(ctx context.Context, applicationID, resumeID string) (UpsertResult, error) {
	const query = `
INSERT INTO ai_analyses (id, application_id, resume_id, status, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', $4, $4)
ON CONFLICT (application_id) DO UPDATE
SET resume_id = EXCLUDED.resume_id, updated_at = EXCLUDED.updated_at
WHERE ai_analyses.status = 'pending'
RETURNING (xmax = 0) AS inserted`
	return r.upsert(ctx, query, uuid.NewString(), applicationID, resumeID, r.now())
}

// UpsertFailed inserts a failed row or fails a pending one. Terminal rows are left alone.
func (r *PGRepo) UpsertFailed(ctx context.Context, applicationID string, resumeID *string, errorMessage string) (UpsertResult, error) {
	const query = `
INSERT INTO ai_analyses (id, application_id, resume_id, status, error_message, analyzed_at, created_at, updated_at)
VALUES ($1, $2, $3, 'failed', $4, $5, $5, $5)
ON CONFLICT (application_id) DO UPDATE
SET resume_id = EXCLUDED.resume_id,
    status = 'failed',
    error_message = EXCLUDED.error_message,
    analyzed_at = EXCLUDED.analyzed_at,
    updated_at = EXCLUDED.updated_at
WHERE ai_analyses.status = 'pending'
RETURNING (xmax = 0) AS inserted`
	var resume any
	if resumeID != nil {
		resume = *resumeID
	}
	return r.upsert(ctx, query, uuid.NewString(), applicationID, resume, errorMessage, r.now())
}

func (r *PGRepo) upsert(ctx context.Context, query string, args ...any) (UpsertResult, error) {
	var inserted bool
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&inserted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return UpsertTerminal, nil
	case err != nil:
		return 0, fmt.Errorf("upsert analysis: %w", err)
	case inserted:
		return UpsertInserted, nil
	default:
		return UpsertUpdated, nil
	}
}

// Complete stores the outcome and marks the record completed.
func (r *PGRepo) Complete(ctx context.Context, applicationID string, out Outcome) (bool, error) {
	const query = `
UPDATE ai_analyses
SET match_score = $2,
    matching_skills = $3,
    missing_skills = $4,
    suggestions = $5,
    status = 'completed',
    error_message = NULL,
    analyzed_at = $6,
    updated_at = $6
WHERE application_id = $1 AND status = 'pending'`
	matching, err := marshalSkills(out.MatchingSkills)
	if err != nil {
		return false, err
	}
	missing, err := marshalSkills(out.MissingSkills)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, query, applicationID, out.MatchScore, matching, missing, out.Suggestions, r.now())
	if err != nil {
		return false, fmt.Errorf("complete analysis: %w", err)
	}
	return affected(res)
}

// Fail marks the record failed, keeping any fallback outcome supplied.
func (r *PGRepo) Fail(ctx context.Context, applicationID, errorMessage string, out *Outcome) (bool, error) {
	const query = `
UPDATE ai_analyses
SET status = 'failed',
    error_message = $2,
    match_score = COALESCE($3, match_score),
    suggestions = COALESCE($4, suggestions),
    analyzed_at = $5,
    updated_at = $5
WHERE application_id = $1 AND status = 'pending'`
	var score, suggestions any
	if out != nil {
		score = out.MatchScore
		suggestions = out.Suggestions
	}
	res, err := r.DB.ExecContext(ctx, query, applicationID, errorMessage, score, suggestions, r.now())
	if err != nil {
		return false, fmt.Errorf("fail analysis: %w", err)
	}
	return affected(res)
}

// GetByApplicationID returns the record for an application.
func (r *PGRepo) GetByApplicationID(ctx context.Context, applicationID string) (Record, error) {
	const query = `
SELECT id, application_id, resume_id, match_score, matching_skills, missing_skills,
       suggestions, status, error_message, created_at, analyzed_at, updated_at
FROM ai_analyses
WHERE application_id = $1
LIMIT 1`
	var rec Record
	var resumeID, suggestions, errorMessage sql.NullString
	var score sql.NullInt64
	var matching, missing []byte
	var analyzedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, applicationID).Scan(
		&rec.ID,
		&rec.ApplicationID,
		&resumeID,
		&score,
		&matching,
		&missing,
		&suggestions,
		&rec.Status,
		&errorMessage,
		&rec.CreatedAt,
		&analyzedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if resumeID.Valid {
		rec.ResumeID = &resumeID.String
	}
	if score.Valid {
		v := int(score.Int64)
		rec.MatchScore = &v
	}
	if suggestions.Valid {
		rec.Suggestions = &suggestions.String
	}
	if errorMessage.Valid {
		rec.ErrorMessage = &errorMessage.String
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time
		rec.AnalyzedAt = &t
	}
	if rec.MatchingSkills, err = unmarshalSkills(matching); err != nil {
		return Record{}, err
	}
	if rec.MissingSkills, err = unmarshalSkills(missing); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func marshalSkills(skills []string) (string, error) {
	if skills == nil {
		skills = []string{}
	}
	raw, err := json.Marshal(skills)
	if err != nil {
		return "", fmt.Errorf("marshal skills: %w", err)
	}
	return string(raw), nil
}

func unmarshalSkills(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

var _ Repo = (*PGRepo)(nil)
