package resumes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const selectColumns = `id, user_id, content, file_name, is_active, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const deactivateOthers = `
UPDATE resumes
SET is_active = false, updated_at = $3
WHERE user_id = $1 AND id <> $2 AND is_active`

// Create inserts a resume. An active resume deactivates the user's others in
// the same transaction.
func (r *PGRepo) Create(ctx context.Context, resume Resume) error {
	const insert = `
INSERT INTO resumes (id, user_id, content, file_name, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if resume.IsActive {
			if _, err := tx.ExecContext(ctx, deactivateOthers, resume.UserID, resume.ID, resume.CreatedAt); err != nil {
				return fmt.Errorf("deactivate resumes: %w", err)
			}
		}
		var fileName sql.NullString
		if resume.FileName != "" {
			fileName = sql.NullString{String: resume.FileName, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, resume.ID, resume.UserID, resume.Content, fileName, resume.IsActive, resume.CreatedAt); err != nil {
			return fmt.Errorf("insert resume: %w", err)
		}
		return nil
	})
}

// GetByID returns a resume owned by userID.
func (r *PGRepo) GetByID(ctx context.Context, userID, id string) (Resume, error) {
	if !validID(id) {
		return Resume{}, ErrNotFound
	}
	query := `SELECT ` + selectColumns + ` FROM resumes WHERE id = $1 AND user_id = $2`
	return r.getOne(ctx, "get resume", query, id, userID)
}

// GetActive returns the user's active resume.
func (r *PGRepo) GetActive(ctx context.Context, userID string) (Resume, error) {
	query := `SELECT ` + selectColumns + ` FROM resumes WHERE user_id = $1 AND is_active LIMIT 1`
	return r.getOne(ctx, "get active resume", query, userID)
}

// ListByUser returns the user's resumes, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Resume, error) {
	query := `SELECT ` + selectColumns + ` FROM resumes WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	defer rows.Close()

	out := []Resume{}
	for rows.Next() {
		res, err := scanResume(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resume: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	return out, nil
}

// Activate makes id the user's only active resume.
func (r *PGRepo) Activate(ctx context.Context, userID, id string, at time.Time) (Resume, error) {
	if !validID(id) {
		return Resume{}, ErrNotFound
	}
	activate := `
UPDATE resumes
SET is_active = true, updated_at = $3
WHERE id = $1 AND user_id = $2
RETURNING ` + selectColumns

	var out Resume
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deactivateOthers, userID, id, at); err != nil {
			return fmt.Errorf("deactivate resumes: %w", err)
		}
		res, err := scanResume(tx.QueryRowContext(ctx, activate, id, userID, at))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("activate resume: %w", err)
		}
		out = res
		return nil
	})
	if err != nil {
		return Resume{}, err
	}
	return out, nil
}

// Delete removes a resume owned by userID and returns what was removed.
func (r *PGRepo) Delete(ctx context.Context, userID, id string) (Resume, error) {
	if !validID(id) {
		return Resume{}, ErrNotFound
	}
	query := `DELETE FROM resumes WHERE id = $1 AND user_id = $2 RETURNING ` + selectColumns
	return r.getOne(ctx, "delete resume", query, id, userID)
}

// validID reports whether id can match the UUID primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PGRepo) getOne(ctx context.Context, op, query string, args ...any) (Resume, error) {
	res, err := scanResume(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resume{}, ErrNotFound
		}
		return Resume{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (r *PGRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResume(row rowScanner) (Resume, error) {
	var res Resume
	var fileName sql.NullString
	if err := row.Scan(&res.ID, &res.UserID, &res.Content, &fileName, &res.IsActive, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return Resume{}, err
	}
	res.FileName = fileName.String
	return res, nil
}

var _ Repo = (*PGRepo)(nil)
