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

var defectUpdateFields = map[string]bool{
	"title":            true,
	"component":        true,
	"epic_id":          true,
	"user_story_issue": true,
	"test_id":          true,
	"severity":         true,
	"status":           true,
}

const defectColumns = `id, defect_id, title, component, epic_id, user_story_issue, test_id, severity, status, created_at, updated_at`

// CreateDefect creates a new defect
func (s *SQLiteStorage) CreateDefect(ctx context.Context, defect *types.Defect, actor string) error {
	if err := defect.Validate(); err != nil {
		return fmt.Errorf("invalid defect: %w", err)
	}

	now := time.Now()
	if defect.CreatedAt.IsZero() {
		defect.CreatedAt = now
	}
	defect.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO defects (defect_id, title, component, epic_id, user_story_issue, test_id, severity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, defect.DefectID, defect.Title, defect.Component, defect.EpicID,
		defect.UserStoryIssue, defect.TestID, defect.Severity, defect.Status,
		defect.CreatedAt, defect.UpdatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to create defect: %w", err))
	}

	defect.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get defect id: %w", err)
	}

	return recordEvent(ctx, s.db, types.KindDefect, defect.ID, types.EventCreated, actor, nil, nil)
}

// GetDefect retrieves a defect by row id
func (s *SQLiteStorage) GetDefect(ctx context.Context, id int64) (*types.Defect, error) {
	return s.getDefect(ctx, `WHERE id = ?`, id)
}

// GetDefectByKey retrieves a defect by its business key (e.g. "DF-1")
func (s *SQLiteStorage) GetDefectByKey(ctx context.Context, defectID string) (*types.Defect, error) {
	return s.getDefect(ctx, `WHERE defect_id = ?`, defectID)
}

func (s *SQLiteStorage) getDefect(ctx context.Context, where string, arg interface{}) (*types.Defect, error) {
	var defect types.Defect
	var epicID, userStoryIssue, testID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT `+defectColumns+` FROM defects `+where, arg).Scan(
		&defect.ID, &defect.DefectID, &defect.Title, &defect.Component,
		&epicID, &userStoryIssue, &testID, &defect.Severity, &defect.Status,
		&defect.CreatedAt, &defect.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("defect %v: %w", arg, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get defect: %w", err)
	}
	if epicID.Valid {
		defect.EpicID = &epicID.Int64
	}
	if userStoryIssue.Valid {
		n := int(userStoryIssue.Int64)
		defect.UserStoryIssue = &n
	}
	if testID.Valid {
		defect.TestID = &testID.Int64
	}
	return &defect, nil
}

// UpdateDefect applies a validated field update
func (s *SQLiteStorage) UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateDefect(ctx, s.db, id, updates, actor)
}

func updateDefect(ctx context.Context, q querier, id int64, updates map[string]interface{}, actor string) error {
	if err := updateByID(ctx, q, "defects", types.KindDefect, id, updates, defectUpdateFields, validateDefectStatus); err != nil {
		return err
	}
	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	return recordEvent(ctx, q, types.KindDefect, id, eventType, actor, nil, updatesJSON(updates))
}

// ListDefects returns defects matching the filter, ordered by business key
func (s *SQLiteStorage) ListDefects(ctx context.Context, filter types.DefectFilter) ([]*types.Defect, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Severity != nil {
		whereClauses = append(whereClauses, "severity = ?")
		args = append(args, *filter.Severity)
	}
	if filter.HasComponent != nil {
		if *filter.HasComponent {
			whereClauses = append(whereClauses, "component != ''")
		} else {
			whereClauses = append(whereClauses, "component = ''")
		}
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

	query := fmt.Sprintf(`SELECT %s FROM defects %s ORDER BY defect_id %s`, defectColumns, whereSQL, limitSQL)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list defects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defects []*types.Defect
	for rows.Next() {
		var defect types.Defect
		var epicID, userStoryIssue, testID sql.NullInt64
		if err := rows.Scan(&defect.ID, &defect.DefectID, &defect.Title, &defect.Component,
			&epicID, &userStoryIssue, &testID, &defect.Severity, &defect.Status,
			&defect.CreatedAt, &defect.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan defect: %w", err)
		}
		if epicID.Valid {
			defect.EpicID = &epicID.Int64
		}
		if userStoryIssue.Valid {
			n := int(userStoryIssue.Int64)
			defect.UserStoryIssue = &n
		}
		if testID.Valid {
			defect.TestID = &testID.Int64
		}
		defects = append(defects, &defect)
	}
	return defects, rows.Err()
}
