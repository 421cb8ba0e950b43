package sqlite

import (
	"testing"
)

// newTestStore creates a SQLiteStorage backed by a fresh on-disk database
// under the test's temp dir.
func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := New(t.TempDir() + "/stitch.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}
