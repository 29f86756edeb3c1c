package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// openTestDB opens a migrated database in a temporary directory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "lanes.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
