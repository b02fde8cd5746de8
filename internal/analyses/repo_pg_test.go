package analyses

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var fixedNow = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db, Now: func() time.Time { return fixedNow }}, mock
}

func TestPGRepoUpsertPendingResults(t *testing.T) {
	tests := []struct {
		name string
		rows *sqlmock.Rows
		want UpsertResult
	}{
		{name: "inserted", rows: sqlmock.NewRows([]string{"inserted"}).AddRow(true), want: UpsertInserted},
		{name: "updated", rows: sqlmock.NewRows([]string{"inserted"}).AddRow(false), want: UpsertUpdated},
		{name: "terminal", rows: sqlmock.NewRows([]string{"inserted"}), want: UpsertTerminal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectQuery(`INSERT INTO ai_analyses .* ON CONFLICT \(application_id\) DO UPDATE .* WHERE ai_analyses.status = 'pending'`).
				WithArgs(sqlmock.AnyArg(), "app-1", "res-1", fixedNow).
				WillReturnRows(tt.rows)

			got, err := repo.UpsertPending(context.Background(), "app-1", "res-1")
			if err != nil {
				t.Fatalf("UpsertPending: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("ExpectationsWereMet: %v", err)
			}
		})
	}
}

func TestPGRepoUpsertPendingWrapsError(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("INSERT INTO ai_analyses").WillReturnError(boom)

	if _, err := repo.UpsertPending(context.Background(), "app-1", "res-1"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestPGRepoUpsertFailedWithoutResume(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`INSERT INTO ai_analyses .* 'failed'`).
		WithArgs(sqlmock.AnyArg(), "app-1", nil, MsgNoActiveResume, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	got, err := repo.UpsertFailed(context.Background(), "app-1", nil, MsgNoActiveResume)
	if err != nil || got != UpsertInserted {
		t.Fatalf("unexpected %s %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteGuardsPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	out := Outcome{MatchScore: 81, MatchingSkills: []string{"Go"}, MissingSkills: nil, Suggestions: "ship it"}

	mock.ExpectExec(`UPDATE ai_analyses .* WHERE application_id = \$1 AND status = 'pending'`).
		WithArgs("app-1", 81, `["Go"]`, `[]`, "ship it", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ai_analyses`).
		WithArgs("app-1", 81, `["Go"]`, `[]`, "ship it", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Complete(context.Background(), "app-1", out)
	if err != nil || !ok {
		t.Fatalf("expected transition, got %v %v", ok, err)
	}
	ok, err = repo.Complete(context.Background(), "app-1", out)
	if err != nil || ok {
		t.Fatalf("expected no transition on terminal row, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailArgs(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE ai_analyses\s+SET status = 'failed'`).
		WithArgs("app-1", MsgNoJobDescription, nil, nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ai_analyses\s+SET status = 'failed'`).
		WithArgs("app-2", "quota", 0, "Analysis failed: quota", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if ok, err := repo.Fail(context.Background(), "app-1", MsgNoJobDescription, nil); err != nil || !ok {
		t.Fatalf("Fail: %v %v", ok, err)
	}
	out := &Outcome{MatchScore: 0, Suggestions: "Analysis failed: quota"}
	if ok, err := repo.Fail(context.Background(), "app-2", "quota", out); err != nil || !ok {
		t.Fatalf("Fail with outcome: %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByApplicationID(t *testing.T) {
	repo, mock := newMockRepo(t)
	cols := []string{"id", "application_id", "resume_id", "match_score", "matching_skills", "missing_skills",
		"suggestions", "status", "error_message", "created_at", "analyzed_at", "updated_at"}
	mock.ExpectQuery("SELECT .* FROM ai_analyses").
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"an-1", "app-1", "res-1", int64(80), []byte(`["Go","SQL"]`), []byte(`[]`),
			"good", StatusCompleted, nil, fixedNow, fixedNow, fixedNow,
		))

	rec, err := repo.GetByApplicationID(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("GetByApplicationID: %v", err)
	}
	if rec.ResumeID == nil || *rec.ResumeID != "res-1" || rec.MatchScore == nil || *rec.MatchScore != 80 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.MatchingSkills) != 2 || rec.MissingSkills == nil || rec.ErrorMessage != nil || rec.AnalyzedAt == nil {
		t.Fatalf("unexpected record fields %+v", rec)
	}
}

func TestPGRepoGetByApplicationIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .* FROM ai_analyses").WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByApplicationID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
