package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

var capabilityUpdateFields = map[string]bool{
	"name":            true,
	"component":       true,
	"strategic_theme": true,
	"business_value":  true,
}

// CreateCapability creates a new capability
func (s *SQLiteStorage) CreateCapability(ctx context.Context, c *types.Capability, actor string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid capability: %w", err)
	}

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO capabilities (capability_id, name, component, strategic_theme, business_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.CapabilityID, c.Name, c.Component, c.StrategicTheme, c.BusinessValue, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to create capability: %w", err))
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get capability id: %w", err)
	}

	return recordEvent(ctx, s.db, types.KindCapability, c.ID, types.EventCreated, actor, nil, nil)
}

// GetCapability retrieves a capability by row id
func (s *SQLiteStorage) GetCapability(ctx context.Context, id int64) (*types.Capability, error) {
	return s.getCapability(ctx, `WHERE id = ?`, id)
}

// GetCapabilityByKey retrieves a capability by its business key (e.g. "CAP-1")
func (s *SQLiteStorage) GetCapabilityByKey(ctx context.Context, capabilityID string) (*types.Capability, error) {
	return s.getCapability(ctx, `WHERE capability_id = ?`, capabilityID)
}

func (s *SQLiteStorage) getCapability(ctx context.Context, where string, arg interface{}) (*types.Capability, error) {
	var c types.Capability
	err := s.db.QueryRowContext(ctx, `
		SELECT id, capability_id, name, component, strategic_theme, business_value, created_at, updated_at
		FROM capabilities `+where, arg).Scan(
		&c.ID, &c.CapabilityID, &c.Name, &c.Component,
		&c.StrategicTheme, &c.BusinessValue, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("capability %v: %w", arg, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capability: %w", err)
	}
	return &c, nil
}

// UpdateCapability applies a validated field update
func (s *SQLiteStorage) UpdateCapability(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	if err := updateByID(ctx, s.db, "capabilities", types.KindCapability, id, updates, capabilityUpdateFields, validateStatus); err != nil {
		return err
	}
	return recordEvent(ctx, s.db, types.KindCapability, id, types.EventUpdated, actor, nil, updatesJSON(updates))
}

// ListCapabilities returns all capabilities ordered by business key
func (s *SQLiteStorage) ListCapabilities(ctx context.Context) ([]*types.Capability, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, capability_id, name, component, strategic_theme, business_value, created_at, updated_at
		FROM capabilities
		ORDER BY capability_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var caps []*types.Capability
	for rows.Next() {
		var c types.Capability
		if err := rows.Scan(&c.ID, &c.CapabilityID, &c.Name, &c.Component,
			&c.StrategicTheme, &c.BusinessValue, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		caps = append(caps, &c)
	}
	return caps, rows.Err()
}
