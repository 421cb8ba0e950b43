package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// Verify sqliteTx implements storage.Transaction at compile time
var _ storage.Transaction = (*sqliteTx)(nil)

// sqliteTx implements the storage.Transaction interface. It wraps a
// dedicated connection with an active transaction; all operations share
// that connection.
type sqliteTx struct {
	conn querier
}

// RunInTransaction executes a function within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire the write lock up front,
// so a phase that will write never deadlocks upgrading a read lock mid-way.
//
// Lifecycle:
//  1. Acquire a dedicated connection from the pool
//  2. BEGIN IMMEDIATE, retrying on SQLITE_BUSY
//  3. Execute fn against the Transaction interface
//  4. On nil return: COMMIT; on error or panic: ROLLBACK
//
// If fn panics, the transaction is rolled back and the panic re-raised.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is canceled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&sqliteTx{conn: conn}); err != nil {
		return err // rollback happens in the defer
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry starts an IMMEDIATE transaction, retrying with
// exponential backoff while the database is busy.
func beginImmediateWithRetry(ctx context.Context, conn querier, attempts int, initialDelay time.Duration) error {
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isBusyError reports whether err is SQLITE_BUSY / database-locked
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpdateEpic applies a validated field update within the transaction
func (t *sqliteTx) UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateEpic(ctx, t.conn, id, updates, actor)
}

// UpdateUserStory applies a validated field update within the transaction
func (t *sqliteTx) UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateUserStory(ctx, t.conn, id, updates, actor)
}

// UpdateTest applies a validated field update within the transaction
func (t *sqliteTx) UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateTest(ctx, t.conn, id, updates, actor)
}

// UpdateDefect applies a validated field update within the transaction
func (t *sqliteTx) UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateDefect(ctx, t.conn, id, updates, actor)
}

// DeleteTests removes test rows within the transaction
func (t *sqliteTx) DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error {
	return deleteTests(ctx, t.conn, ids, reason, actor)
}

// ListTests reads tests with read-your-writes visibility
func (t *sqliteTx) ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error) {
	return listTests(ctx, t.conn, filter)
}
