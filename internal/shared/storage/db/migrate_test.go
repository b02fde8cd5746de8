package db

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestRunMigrationsNilDatabase(t *testing.T) {
	if err := RunMigrations(context.Background(), nil); err != nil {
		t.Fatalf("expected nil database to be a no-op, got %v", err)
	}
}

func TestMigrationsDeclareAnalysisUniqueness(t *testing.T) {
	raw, err := fs.ReadFile(migrationFiles, "migrations/00001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)
	for _, want := range []string{"UNIQUE (application_id)", "ux_resumes_user_active", "-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected migration to contain %q", want)
		}
	}
}

func TestMigrateNilDatabaseIgnoresCommand(t *testing.T) {
	if err := Migrate(context.Background(), nil, "status"); err != nil {
		t.Fatalf("expected nil database to be a no-op, got %v", err)
	}
}
