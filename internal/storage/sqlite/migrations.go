package sqlite

import (
	"database/sql"
	"fmt"
)

// migratePriorityExplicitColumn adds the priority provenance flag to the
// tests table. Databases created before the flag existed inferred "was this
// deliberately set" by comparing priority against the "medium" default; the
// backfill preserves that inference for existing rows.
func migratePriorityExplicitColumn(db *sql.DB) error {
	exists, err := columnExists(db, "tests", "priority_explicit")
	if err != nil {
		return fmt.Errorf("failed to check priority_explicit column: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE tests ADD COLUMN priority_explicit INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add priority_explicit column: %w", err)
	}

	// Backfill from the legacy sentinel heuristic.
	if _, err := db.Exec(`UPDATE tests SET priority_explicit = 1 WHERE priority != 'medium'`); err != nil {
		return fmt.Errorf("failed to backfill priority_explicit: %w", err)
	}

	return nil
}

// migrateResolutionDateColumn adds resolution_date to epic_dependencies for
// databases created before resolution tracking existed.
func migrateResolutionDateColumn(db *sql.DB) error {
	exists, err := columnExists(db, "epic_dependencies", "resolution_date")
	if err != nil {
		return fmt.Errorf("failed to check resolution_date column: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE epic_dependencies ADD COLUMN resolution_date DATETIME`); err != nil {
		return fmt.Errorf("failed to add resolution_date column: %w", err)
	}

	return nil
}

// migrateTestIdentityIndex creates the (function_name, file_path) index on
// databases that predate it. Duplicate grouping scans are by far the hottest
// query during deduplication.
func migrateTestIdentityIndex(db *sql.DB) error {
	var name string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='index' AND name='idx_tests_identity'
	`).Scan(&name)

	if err == sql.ErrNoRows {
		if _, err := db.Exec(`CREATE INDEX idx_tests_identity ON tests(function_name, file_path)`); err != nil {
			return fmt.Errorf("failed to create test identity index: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check for test identity index: %w", err)
	}

	return nil
}

// columnExists reports whether a table already has the named column.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
