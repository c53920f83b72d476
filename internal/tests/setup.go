// Package tests holds DATABASE_URL-gated integration tests that run the repositories
// and the HTTP API against a real Postgres instance.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/db"
)

// OpenTestDB opens DATABASE_URL and applies migrations, or skips the test when it is unset
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	database, err := db.Open(context.Background(), databaseURL, zap.NewNop())
	if err != nil {
		t.Fatalf("database open must succeed; check DATABASE_URL and that the test DB exists: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrations must run successfully: %v", err)
	}
	return database
}

// TruncateTables empties all application tables for a clean test state.
func TruncateTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE engagement_events, posts, users")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
