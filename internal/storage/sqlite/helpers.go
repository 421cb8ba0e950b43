package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// querier is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
// Entity operations are written against it so the same code serves both
// autocommit calls and per-phase transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// IsConstraintError reports whether err is a SQLite constraint failure
// (UNIQUE, CHECK or FOREIGN KEY). SQLite reports these in uppercase.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}

// mapIntegrityError wraps SQLite constraint failures in
// storage.ErrIntegrityViolation so batch callers can catch them per row
// with errors.Is. Other errors pass through unchanged.
func mapIntegrityError(err error) error {
	if IsConstraintError(err) {
		return fmt.Errorf("%w: %v", storage.ErrIntegrityViolation, err)
	}
	return err
}

// buildInClause builds a "(?, ?, ...)" placeholder list and its args for an
// id set.
func buildInClause(ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

// updateByID applies a validated map update to one row. Field names are
// checked against the table's allow-list to prevent SQL injection; values
// with constraints run through their validator. Returns ErrNotFound when
// the row does not exist.
func updateByID(ctx context.Context, q querier, table string, kind types.EntityKind, id int64, updates map[string]interface{}, allowed map[string]bool, statusValidator func(interface{}) error) error {
	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now()}

	for key, value := range updates {
		if !allowed[key] {
			return fmt.Errorf("invalid field for update: %s", key)
		}
		if err := validateFieldUpdate(key, value, statusValidator); err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
		args = append(args, value)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(setClauses, ", "))
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to update %s: %w", kind, err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}

// updatesJSON renders an update map for the audit trail, falling back to an
// empty object if marshaling fails.
func updatesJSON(updates map[string]interface{}) *string {
	data, err := json.Marshal(updates)
	if err != nil {
		data = []byte(`{}`)
	}
	s := string(data)
	return &s
}
