package sqlite

import (
	"context"
	"fmt"

	"github.com/stitchtrace/stitch/internal/types"
)

// GetStatistics returns aggregate counts over the traceability graph
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM capabilities`, &stats.Capabilities},
		{`SELECT COUNT(*) FROM epics`, &stats.Epics},
		{`SELECT COUNT(*) FROM user_stories`, &stats.UserStories},
		{`SELECT COUNT(*) FROM tests`, &stats.Tests},
		{`SELECT COUNT(*) FROM defects`, &stats.Defects},
		{`SELECT COUNT(*) FROM active_epic_dependencies`, &stats.Dependencies},
		{`SELECT COUNT(*) FROM duplicate_test_keys`, &stats.DuplicateTestKeys},
		{`SELECT COUNT(*) FROM tests WHERE epic_id IS NULL`, &stats.TestsWithoutEpic},
		{`SELECT (SELECT COUNT(*) FROM tests WHERE component = '')
		       + (SELECT COUNT(*) FROM defects WHERE component = '')
		       + (SELECT COUNT(*) FROM user_stories WHERE component = '')`, &stats.MissingComponents},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to compute statistics: %w", err)
		}
	}

	return stats, nil
}
