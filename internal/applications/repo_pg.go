package applications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const selectColumns = `id, user_id, company_name, job_title, job_url, job_description, location, salary_range, date_applied, status, notes, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new application.
func (r *PGRepo) Create(ctx context.Context, app Application) error {
	const query = `
INSERT INTO applications (
    id,
    user_id,
    company_name,
    job_title,
    job_url,
    job_description,
    location,
    salary_range,
    date_applied,
    status,
    notes,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		app.ID,
		app.UserID,
		app.CompanyName,
		app.JobTitle,
		nullString(app.JobURL),
		nullString(app.JobDescription),
		nullString(app.Location),
		nullString(app.SalaryRange),
		app.DateApplied,
		app.Status,
		nullString(app.Notes),
		app.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// GetByID returns the application with the given id.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Application, error) {
	if !validID(id) {
		return Application{}, ErrNotFound
	}
	query := `SELECT ` + selectColumns + ` FROM applications WHERE id = $1`
	app, err := scanApplication(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// ListByUser returns the user's applications, newest date first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Application, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + ` FROM applications WHERE user_id = $1`)
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&b, " AND status = $%d", len(args))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		fmt.Fprintf(&b, " AND date_applied >= $%d", len(args))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		fmt.Fprintf(&b, " AND date_applied <= $%d", len(args))
	}
	b.WriteString(" ORDER BY date_applied DESC, created_at DESC")

	rows, err := r.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := []Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// Update writes the editable fields of an application owned by app.UserID.
func (r *PGRepo) Update(ctx context.Context, app Application) (Application, error) {
	if !validID(app.ID) {
		return Application{}, ErrNotFound
	}
	query := `
UPDATE applications
SET company_name = $3,
    job_title = $4,
    job_url = $5,
    job_description = $6,
    location = $7,
    salary_range = $8,
    date_applied = $9,
    status = $10,
    notes = $11,
    updated_at = $12
WHERE id = $1 AND user_id = $2
RETURNING ` + selectColumns
	row := r.DB.QueryRowContext(
		ctx,
		query,
		app.ID,
		app.UserID,
		app.CompanyName,
		app.JobTitle,
		nullString(app.JobURL),
		nullString(app.JobDescription),
		nullString(app.Location),
		nullString(app.SalaryRange),
		app.DateApplied,
		app.Status,
		nullString(app.Notes),
		app.UpdatedAt,
	)
	out, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("update application: %w", err)
	}
	return out, nil
}

// UpdateStatus changes the status of an application owned by userID.
func (r *PGRepo) UpdateStatus(ctx context.Context, userID, id, status string, at time.Time) (Application, error) {
	if !validID(id) {
		return Application{}, ErrNotFound
	}
	query := `
UPDATE applications
SET status = $3, updated_at = $4
WHERE id = $1 AND user_id = $2
RETURNING ` + selectColumns
	app, err := scanApplication(r.DB.QueryRowContext(ctx, query, id, userID, status, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("update application status: %w", err)
	}
	return app, nil
}

// Delete removes an application owned by userID. Its analysis is removed by
// the cascading foreign key.
func (r *PGRepo) Delete(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM applications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// validID reports whether id can match the UUID primary key. Anything else
// would make Postgres reject the query instead of finding no row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (Application, error) {
	var app Application
	var jobURL, jobDescription, location, salaryRange, notes sql.NullString
	err := row.Scan(
		&app.ID,
		&app.UserID,
		&app.CompanyName,
		&app.JobTitle,
		&jobURL,
		&jobDescription,
		&location,
		&salaryRange,
		&app.DateApplied,
		&app.Status,
		&notes,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return Application{}, err
	}
	app.JobURL = jobURL.String
	app.JobDescription = jobDescription.String
	app.Location = location.String
	app.SalaryRange = salaryRange.String
	app.Notes = notes.String
	return app, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
