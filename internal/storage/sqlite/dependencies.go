package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

const dependencyColumns = `id, parent_epic_id, dependent_epic_id, dependency_type, priority,
	       estimated_impact_days, is_active, is_resolved, resolution_date, created_at`

// AddEpicDependency creates a directed planning edge parent -> dependent.
// Self-loops and duplicate (parent, dependent, type) edges surface as
// ErrIntegrityViolation so bulk importers can count and continue. Cycles
// are deliberately NOT rejected here: planning data arrives cyclic, and the
// dependency analyzer reports cycles on read.
func (s *SQLiteStorage) AddEpicDependency(ctx context.Context, dep *types.EpicDependency, actor string) error {
	if err := dep.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrIntegrityViolation, err)
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO epic_dependencies (parent_epic_id, dependent_epic_id, dependency_type, priority,
		                               estimated_impact_days, is_active, is_resolved, resolution_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dep.ParentEpicID, dep.DependentEpicID, dep.DependencyType, dep.Priority,
		dep.EstimatedImpactDays, dep.IsActive, dep.IsResolved, dep.ResolutionDate, dep.CreatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to add dependency: %w", err))
	}

	dep.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get dependency id: %w", err)
	}

	edge := fmt.Sprintf("%d->%d (%s)", dep.ParentEpicID, dep.DependentEpicID, dep.DependencyType)
	return recordEvent(ctx, s.db, types.KindDependency, dep.ID, types.EventDependencyAdded, actor, nil, &edge)
}

// ResolveEpicDependency marks an edge resolved, removing it from the
// analyzer's active graph.
func (s *SQLiteStorage) ResolveEpicDependency(ctx context.Context, id int64, actor string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE epic_dependencies
		SET is_resolved = 1, resolution_date = ?
		WHERE id = ? AND is_resolved = 0
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dependency: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unresolved dependency %d: %w", id, storage.ErrNotFound)
	}

	return recordEvent(ctx, s.db, types.KindDependency, id, types.EventDependencyResolved, actor, nil, nil)
}

// ListEpicDependencies returns dependency edges. With activeOnly set, only
// active unresolved edges are returned; these form the analyzer's graph.
func (s *SQLiteStorage) ListEpicDependencies(ctx context.Context, activeOnly bool) ([]*types.EpicDependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM epic_dependencies`
	if activeOnly {
		query = `SELECT ` + dependencyColumns + ` FROM active_epic_dependencies`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDependencies(rows)
}

// GetEpicDependenciesFor returns all edges touching an epic, in either
// direction.
func (s *SQLiteStorage) GetEpicDependenciesFor(ctx context.Context, epicID int64) ([]*types.EpicDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dependencyColumns+`
		FROM epic_dependencies
		WHERE parent_epic_id = ? OR dependent_epic_id = ?
		ORDER BY id
	`, epicID, epicID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDependencies(rows)
}

func scanDependencies(rows *sql.Rows) ([]*types.EpicDependency, error) {
	var deps []*types.EpicDependency
	for rows.Next() {
		var dep types.EpicDependency
		var resolutionDate sql.NullTime
		if err := rows.Scan(&dep.ID, &dep.ParentEpicID, &dep.DependentEpicID,
			&dep.DependencyType, &dep.Priority, &dep.EstimatedImpactDays,
			&dep.IsActive, &dep.IsResolved, &resolutionDate, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if resolutionDate.Valid {
			dep.ResolutionDate = &resolutionDate.Time
		}
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}
