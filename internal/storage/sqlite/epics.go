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

var epicUpdateFields = map[string]bool{
	"title":                 true,
	"component":             true,
	"capability_id":         true,
	"status":                true,
	"priority":              true,
	"estimated_impact_days": true,
}

const epicColumns = `id, epic_id, title, component, capability_id, status, priority, estimated_impact_days, created_at, updated_at`

// CreateEpic creates a new epic
func (s *SQLiteStorage) CreateEpic(ctx context.Context, epic *types.Epic, actor string) error {
	if err := epic.Validate(); err != nil {
		return fmt.Errorf("invalid epic: %w", err)
	}

	now := time.Now()
	if epic.CreatedAt.IsZero() {
		epic.CreatedAt = now
	}
	epic.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO epics (epic_id, title, component, capability_id, status, priority, estimated_impact_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, epic.EpicID, epic.Title, epic.Component, epic.CapabilityID, epic.Status,
		epic.Priority, epic.EstimatedImpactDays, epic.CreatedAt, epic.UpdatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to create epic: %w", err))
	}

	epic.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get epic id: %w", err)
	}

	return recordEvent(ctx, s.db, types.KindEpic, epic.ID, types.EventCreated, actor, nil, nil)
}

// GetEpic retrieves an epic by row id
func (s *SQLiteStorage) GetEpic(ctx context.Context, id int64) (*types.Epic, error) {
	return getEpicWhere(ctx, s.db, `WHERE id = ?`, id)
}

// GetEpicByKey retrieves an epic by its business key (e.g. "EP-1")
func (s *SQLiteStorage) GetEpicByKey(ctx context.Context, epicID string) (*types.Epic, error) {
	return getEpicWhere(ctx, s.db, `WHERE epic_id = ?`, epicID)
}

func getEpicWhere(ctx context.Context, q querier, where string, arg interface{}) (*types.Epic, error) {
	row := q.QueryRowContext(ctx, `SELECT `+epicColumns+` FROM epics `+where, arg)
	epic, err := scanEpicRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epic %v: %w", arg, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic: %w", err)
	}
	return epic, nil
}

// scanEpicRow scans a single epic from a row handle
func scanEpicRow(row *sql.Row) (*types.Epic, error) {
	var epic types.Epic
	var capabilityID sql.NullInt64
	err := row.Scan(&epic.ID, &epic.EpicID, &epic.Title, &epic.Component,
		&capabilityID, &epic.Status, &epic.Priority, &epic.EstimatedImpactDays,
		&epic.CreatedAt, &epic.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if capabilityID.Valid {
		epic.CapabilityID = &capabilityID.Int64
	}
	return &epic, nil
}

// UpdateEpic applies a validated field update
func (s *SQLiteStorage) UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateEpic(ctx, s.db, id, updates, actor)
}

func updateEpic(ctx context.Context, q querier, id int64, updates map[string]interface{}, actor string) error {
	if err := updateByID(ctx, q, "epics", types.KindEpic, id, updates, epicUpdateFields, validateStatus); err != nil {
		return err
	}
	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	return recordEvent(ctx, q, types.KindEpic, id, eventType, actor, nil, updatesJSON(updates))
}

// ListEpics returns epics matching the filter, ordered by business key
func (s *SQLiteStorage) ListEpics(ctx context.Context, filter types.EpicFilter) ([]*types.Epic, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.CapabilityID != nil {
		whereClauses = append(whereClauses, "capability_id = ?")
		args = append(args, *filter.CapabilityID)
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

	query := fmt.Sprintf(`SELECT %s FROM epics %s ORDER BY epic_id %s`, epicColumns, whereSQL, limitSQL)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var epics []*types.Epic
	for rows.Next() {
		var epic types.Epic
		var capabilityID sql.NullInt64
		if err := rows.Scan(&epic.ID, &epic.EpicID, &epic.Title, &epic.Component,
			&capabilityID, &epic.Status, &epic.Priority, &epic.EstimatedImpactDays,
			&epic.CreatedAt, &epic.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epic: %w", err)
		}
		if capabilityID.Valid {
			epic.CapabilityID = &capabilityID.Int64
		}
		epics = append(epics, &epic)
	}
	return epics, rows.Err()
}
