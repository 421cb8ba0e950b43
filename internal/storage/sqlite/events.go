package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stitchtrace/stitch/internal/types"
)

// recordEvent appends an audit row. Mutating operations call it inside the
// same statement scope as the write they describe.
func recordEvent(ctx context.Context, q querier, kind types.EntityKind, entityID int64, eventType types.EventType, actor string, oldValue, newValue *string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (entity_kind, entity_id, event_type, actor, old_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, kind, entityID, eventType, actor, oldValue, newValue)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetEvents returns the audit trail for an entity, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, kind types.EntityKind, entityID int64, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, entity_kind, entity_id, event_type, actor, old_value, new_value, created_at
		FROM events
		WHERE entity_kind = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{kind, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var event types.Event
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&event.ID, &event.EntityKind, &event.EntityID,
			&event.EventType, &event.Actor, &oldValue, &newValue, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if oldValue.Valid {
			event.OldValue = &oldValue.String
		}
		if newValue.Valid {
			event.NewValue = &newValue.String
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}
