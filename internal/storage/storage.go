// Package storage defines the interface for traceability graph storage backends.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and sentinel errors referenced by both the
// implementation and its consumers (cmd/st, the resolver, the dedup engine).
package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stitchtrace/stitch/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the database has not been initialized
// (e.g., the schema_version metadata key is missing).
var ErrNotInitialized = errors.New("database not initialized")

// ErrIntegrityViolation is returned when a write breaks a schema constraint:
// a self-referential dependency, a duplicate (parent, dependent, type) edge,
// or a dangling foreign key. Batch callers catch it per row and continue.
var ErrIntegrityViolation = errors.New("integrity violation")

// Storage defines the interface for traceability graph storage backends
type Storage interface {
	// Capabilities
	CreateCapability(ctx context.Context, c *types.Capability, actor string) error
	GetCapability(ctx context.Context, id int64) (*types.Capability, error)
	GetCapabilityByKey(ctx context.Context, capabilityID string) (*types.Capability, error)
	UpdateCapability(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	ListCapabilities(ctx context.Context) ([]*types.Capability, error)

	// Epics
	CreateEpic(ctx context.Context, epic *types.Epic, actor string) error
	GetEpic(ctx context.Context, id int64) (*types.Epic, error)
	GetEpicByKey(ctx context.Context, epicID string) (*types.Epic, error)
	UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	ListEpics(ctx context.Context, filter types.EpicFilter) ([]*types.Epic, error)

	// User stories
	CreateUserStory(ctx context.Context, story *types.UserStory, actor string) error
	GetUserStory(ctx context.Context, id int64) (*types.UserStory, error)
	GetUserStoryByKey(ctx context.Context, userStoryID string) (*types.UserStory, error)
	GetUserStoryByIssue(ctx context.Context, issueNumber int) (*types.UserStory, error)
	UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	ListUserStories(ctx context.Context, epicID *int64) ([]*types.UserStory, error)

	// Tests. CreateTest always inserts a fresh row: repeated imports are
	// expected to accumulate duplicates, which the dedup engine later
	// collapses.
	CreateTest(ctx context.Context, test *types.Test, actor string) error
	GetTest(ctx context.Context, id int64) (*types.Test, error)
	UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error
	ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error)
	CountTests(ctx context.Context) (int, error)

	// Defects
	CreateDefect(ctx context.Context, defect *types.Defect, actor string) error
	GetDefect(ctx context.Context, id int64) (*types.Defect, error)
	GetDefectByKey(ctx context.Context, defectID string) (*types.Defect, error)
	UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	ListDefects(ctx context.Context, filter types.DefectFilter) ([]*types.Defect, error)

	// Epic dependencies
	AddEpicDependency(ctx context.Context, dep *types.EpicDependency, actor string) error
	ResolveEpicDependency(ctx context.Context, id int64, actor string) error
	ListEpicDependencies(ctx context.Context, activeOnly bool) ([]*types.EpicDependency, error)
	GetEpicDependenciesFor(ctx context.Context, epicID int64) ([]*types.EpicDependency, error)

	// Events
	GetEvents(ctx context.Context, kind types.EntityKind, entityID int64, limit int) ([]*types.Event, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Config
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	DeleteConfig(ctx context.Context, key string) error

	// Metadata (for internal state like schema version and database id)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// RunInTransaction executes fn inside a single database transaction.
	// If fn returns an error or panics the transaction is rolled back;
	// on nil return it is committed. Each dedup phase runs in one.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error

	// Path returns the database file path
	Path() string

	// UnderlyingDB returns the underlying *sql.DB connection.
	// WARNING: Direct database access bypasses the storage layer. Use with caution.
	UnderlyingDB() *sql.DB
}

// Transaction exposes the mutating subset of storage methods that execute
// within a single database transaction. The dedup engine uses one per phase
// so a mid-phase failure rolls back only that phase.
type Transaction interface {
	UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error
	DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error

	// ListTests provides read-your-writes visibility within the transaction
	ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error)
}

// Config holds database configuration
type Config struct {
	Path string // database file path
}
