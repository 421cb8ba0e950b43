package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

var testUpdateFields = map[string]bool{
	"function_name":         true,
	"file_path":             true,
	"component":             true,
	"epic_id":               true,
	"user_story_issue":      true,
	"defect_issue":          true,
	"test_category":         true,
	"priority":              true,
	"priority_explicit":     true,
	"last_execution_time":   true,
	"last_execution_status": true,
}

const testColumns = `id, function_name, file_path, component, epic_id, user_story_issue, defect_issue,
	       test_category, priority, priority_explicit, last_execution_time, last_execution_status,
	       created_at, updated_at`

// CreateTest inserts a new test row. Unlike the keyed entities there is no
// upsert: each import pass appends, and the dedup engine owns collapsing
// the resulting duplicates.
func (s *SQLiteStorage) CreateTest(ctx context.Context, test *types.Test, actor string) error {
	if err := test.Validate(); err != nil {
		return fmt.Errorf("invalid test: %w", err)
	}

	now := time.Now()
	if test.CreatedAt.IsZero() {
		test.CreatedAt = now
	}
	test.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tests (function_name, file_path, component, epic_id, user_story_issue, defect_issue,
		                   test_category, priority, priority_explicit, last_execution_time, last_execution_status,
		                   created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, test.FunctionName, test.FilePath, test.Component, test.EpicID, test.UserStoryIssue,
		test.DefectIssue, test.TestCategory, test.Priority, test.PriorityExplicit,
		test.LastExecutionTime, test.LastExecutionStatus, test.CreatedAt, test.UpdatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to create test: %w", err))
	}

	test.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get test id: %w", err)
	}

	return recordEvent(ctx, s.db, types.KindTest, test.ID, types.EventCreated, actor, nil, nil)
}

// GetTest retrieves a test by row id
func (s *SQLiteStorage) GetTest(ctx context.Context, id int64) (*types.Test, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tests, err := scanTests(rows)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("test %d: %w", id, storage.ErrNotFound)
	}
	return tests[0], nil
}

// UpdateTest applies a validated field update
func (s *SQLiteStorage) UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateTest(ctx, s.db, id, updates, actor)
}

func updateTest(ctx context.Context, q querier, id int64, updates map[string]interface{}, actor string) error {
	if err := updateByID(ctx, q, "tests", types.KindTest, id, updates, testUpdateFields, validateStatus); err != nil {
		return err
	}
	return recordEvent(ctx, q, types.KindTest, id, determineTestEventType(updates), actor, nil, updatesJSON(updates))
}

// determineTestEventType infers the audit event type from the shape of an
// update: inheritance writes component, epic consolidation writes only
// epic_id, path normalization rewrites file_path.
func determineTestEventType(updates map[string]interface{}) types.EventType {
	if _, ok := updates["component"]; ok {
		return types.EventComponentInherited
	}
	if _, ok := updates["file_path"]; ok {
		return types.EventPathNormalized
	}
	if _, ok := updates["epic_id"]; ok && len(updates) == 1 {
		return types.EventEpicConsolidated
	}
	return types.EventUpdated
}

// DeleteTests removes a set of test rows, recording one audit event per row
// with the given reason (duplicate_removed or orphan_removed).
func (s *SQLiteStorage) DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error {
	return deleteTests(ctx, s.db, ids, reason, actor)
}

func deleteTests(ctx context.Context, q querier, ids []int64, reason types.EventType, actor string) error {
	if len(ids) == 0 {
		return nil
	}

	inClause, args := buildInClause(ids)
	result, err := q.ExecContext(ctx, `DELETE FROM tests WHERE id IN `+inClause, args...)
	if err != nil {
		return fmt.Errorf("failed to delete tests: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	for _, id := range ids {
		if err := recordEvent(ctx, q, types.KindTest, id, reason, actor, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// ListTests returns tests matching the filter, ordered by id
func (s *SQLiteStorage) ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error) {
	return listTests(ctx, s.db, filter)
}

func listTests(ctx context.Context, q querier, filter types.TestFilter) ([]*types.Test, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.EpicID != nil {
		whereClauses = append(whereClauses, "epic_id = ?")
		args = append(args, *filter.EpicID)
	}
	if filter.Component != nil {
		whereClauses = append(whereClauses, "component = ?")
		args = append(args, *filter.Component)
	}
	if filter.HasComponent != nil {
		if *filter.HasComponent {
			whereClauses = append(whereClauses, "component != ''")
		} else {
			whereClauses = append(whereClauses, "component = ''")
		}
	}
	if filter.FunctionName != nil {
		whereClauses = append(whereClauses, "function_name = ?")
		args = append(args, *filter.FunctionName)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query := fmt.Sprintf(`SELECT %s FROM tests %s ORDER BY id %s`, testColumns, whereSQL, limitSQL)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTests(rows)
}

// CountTests returns the total number of test rows
func (s *SQLiteStorage) CountTests(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tests: %w", err)
	}
	return count, nil
}

// scanTests scans test rows with their nullable columns
func scanTests(rows *sql.Rows) ([]*types.Test, error) {
	var tests []*types.Test
	for rows.Next() {
		var test types.Test
		var epicID, userStoryIssue, defectIssue sql.NullInt64
		var lastExecutionTime sql.NullTime

		if err := rows.Scan(&test.ID, &test.FunctionName, &test.FilePath, &test.Component,
			&epicID, &userStoryIssue, &defectIssue, &test.TestCategory,
			&test.Priority, &test.PriorityExplicit, &lastExecutionTime,
			&test.LastExecutionStatus, &test.CreatedAt, &test.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}

		if epicID.Valid {
			test.EpicID = &epicID.Int64
		}
		if userStoryIssue.Valid {
			n := int(userStoryIssue.Int64)
			test.UserStoryIssue = &n
		}
		if defectIssue.Valid {
			n := int(defectIssue.Int64)
			test.DefectIssue = &n
		}
		if lastExecutionTime.Valid {
			test.LastExecutionTime = &lastExecutionTime.Time
		}
		tests = append(tests, &test)
	}
	return tests, rows.Err()
}
