// Package stitch provides a minimal public API for building custom
// tooling on top of the st traceability database.
//
// Most integrations should go through the st CLI or direct SQL. This
// package exports only the types and constructors needed to drive the
// storage layer and the analysis engines programmatically.
package stitch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stitchtrace/stitch/internal/graph"
	"github.com/stitchtrace/stitch/internal/inherit"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/storage/memory"
	"github.com/stitchtrace/stitch/internal/storage/sqlite"
	"github.com/stitchtrace/stitch/internal/types"
)

// Core entity types.
type (
	Capability     = types.Capability
	Epic           = types.Epic
	UserStory      = types.UserStory
	Test           = types.Test
	Defect         = types.Defect
	EpicDependency = types.EpicDependency
	TestFilter     = types.TestFilter
	EpicFilter     = types.EpicFilter
	DefectFilter   = types.DefectFilter
	Statistics     = types.Statistics
)

// Status constants.
const (
	StatusPlanned    = types.StatusPlanned
	StatusInProgress = types.StatusInProgress
	StatusCompleted  = types.StatusCompleted
	StatusCancelled  = types.StatusCancelled
)

// Priority constants.
const (
	PriorityLow      = types.PriorityLow
	PriorityMedium   = types.PriorityMedium
	PriorityHigh     = types.PriorityHigh
	PriorityCritical = types.PriorityCritical
)

// Dependency type constants.
const (
	DepPrerequisite = types.DepPrerequisite
	DepBlocking     = types.DepBlocking
	DepTechnical    = types.DepTechnical
)

// CanonicalDatabaseName is the database file name st init creates under
// .stitch/.
const CanonicalDatabaseName = "stitch.db"

// Storage is the interface integrations program against.
type Storage = storage.Storage

// NewSQLiteStorage opens (creating if needed) a stitch SQLite database.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	return sqlite.New(dbPath)
}

// NewMemoryStorage returns a non-persistent store with the same
// behavior as the SQLite backend. Useful in tests and in embedders that
// only need the analysis engines.
func NewMemoryStorage() Storage {
	return memory.New()
}

// Analysis engine results.
type (
	BatchStats = inherit.BatchStats
	PathResult = graph.PathResult
)

// ResolveInheritance runs the full component inheritance chain against
// store: capabilities down through epics, stories, tests and defects.
// With force false only entities missing a component are touched.
func ResolveInheritance(ctx context.Context, store Storage, force bool) (*BatchStats, error) {
	return inherit.NewResolver(store).ProcessFullInheritanceChain(ctx, force)
}

// CriticalPath loads the active dependency graph from store and returns
// the prerequisite chain with the highest total impact.
func CriticalPath(ctx context.Context, store Storage) (*PathResult, error) {
	analyzer, err := graph.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	return analyzer.CriticalPath()
}

// DetectCycles loads the active dependency graph from store and returns
// any cycles as lists of epic keys. An empty result means the graph is
// a DAG and CriticalPath will succeed.
func DetectCycles(ctx context.Context, store Storage) ([][]string, error) {
	analyzer, err := graph.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	return analyzer.DetectCycles(), nil
}

// FindDatabasePath discovers the database using the standard search
// order:
//  1. $ST_DB environment variable
//  2. .stitch/*.db in the current directory or an ancestor
//  3. ~/.stitch/default.db (only if it exists)
//
// Returns empty string when nothing is found.
func FindDatabasePath() string {
	if envDB := os.Getenv("ST_DB"); envDB != "" {
		return envDB
	}

	if foundDB := findDatabaseInTree(); foundDB != "" {
		return foundDB
	}

	if home, err := os.UserHomeDir(); err == nil {
		defaultDB := filepath.Join(home, ".stitch", "default.db")
		if _, err := os.Stat(defaultDB); err == nil {
			return defaultDB
		}
	}

	return ""
}

// findDatabaseInTree walks up the directory tree looking for
// .stitch/*.db.
func findDatabaseInTree() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		stitchDir := filepath.Join(dir, ".stitch")
		if info, err := os.Stat(stitchDir); err == nil && info.IsDir() {
			matches, err := filepath.Glob(filepath.Join(stitchDir, "*.db"))
			if err == nil && len(matches) > 0 {
				return matches[0]
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
