package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

var storyUpdateFields = map[string]bool{
	"title":        true,
	"component":    true,
	"epic_id":      true,
	"issue_number": true,
	"status":       true,
}

const storyColumns = `id, user_story_id, title, epic_id, component, issue_number, status, created_at, updated_at`

// CreateUserStory creates a new user story
func (s *SQLiteStorage) CreateUserStory(ctx context.Context, story *types.UserStory, actor string) error {
	if err := story.Validate(); err != nil {
		return fmt.Errorf("invalid user story: %w", err)
	}

	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO user_stories (user_story_id, title, epic_id, component, issue_number, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, story.UserStoryID, story.Title, story.EpicID, story.Component,
		story.IssueNumber, story.Status, story.CreatedAt, story.UpdatedAt)
	if err != nil {
		return mapIntegrityError(fmt.Errorf("failed to create user story: %w", err))
	}

	story.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user story id: %w", err)
	}

	return recordEvent(ctx, s.db, types.KindUserStory, story.ID, types.EventCreated, actor, nil, nil)
}

// GetUserStory retrieves a user story by row id
func (s *SQLiteStorage) GetUserStory(ctx context.Context, id int64) (*types.UserStory, error) {
	return getStoryWhere(ctx, s.db, `WHERE id = ?`, id)
}

// GetUserStoryByKey retrieves a user story by its business key (e.g. "US-1")
func (s *SQLiteStorage) GetUserStoryByKey(ctx context.Context, userStoryID string) (*types.UserStory, error) {
	return getStoryWhere(ctx, s.db, `WHERE user_story_id = ?`, userStoryID)
}

// GetUserStoryByIssue retrieves a user story by its tracker issue number.
// Tests and defects soft-link to stories through this number.
func (s *SQLiteStorage) GetUserStoryByIssue(ctx context.Context, issueNumber int) (*types.UserStory, error) {
	return getStoryWhere(ctx, s.db, `WHERE issue_number = ?`, issueNumber)
}

func getStoryWhere(ctx context.Context, q querier, where string, arg interface{}) (*types.UserStory, error) {
	var story types.UserStory
	var issueNumber sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM user_stories `+where, arg).Scan(
		&story.ID, &story.UserStoryID, &story.Title, &story.EpicID,
		&story.Component, &issueNumber, &story.Status, &story.CreatedAt, &story.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user story %v: %w", arg, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user story: %w", err)
	}
	if issueNumber.Valid {
		n := int(issueNumber.Int64)
		story.IssueNumber = &n
	}
	return &story, nil
}

// UpdateUserStory applies a validated field update
func (s *SQLiteStorage) UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return updateUserStory(ctx, s.db, id, updates, actor)
}

func updateUserStory(ctx context.Context, q querier, id int64, updates map[string]interface{}, actor string) error {
	if err := updateByID(ctx, q, "user_stories", types.KindUserStory, id, updates, storyUpdateFields, validateStatus); err != nil {
		return err
	}
	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	return recordEvent(ctx, q, types.KindUserStory, id, eventType, actor, nil, updatesJSON(updates))
}

// ListUserStories returns stories, optionally restricted to one epic
func (s *SQLiteStorage) ListUserStories(ctx context.Context, epicID *int64) ([]*types.UserStory, error) {
	query := `SELECT ` + storyColumns + ` FROM user_stories`
	args := []interface{}{}
	if epicID != nil {
		query += ` WHERE epic_id = ?`
		args = append(args, *epicID)
	}
	query += ` ORDER BY user_story_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stories []*types.UserStory
	for rows.Next() {
		var story types.UserStory
		var issueNumber sql.NullInt64
		if err := rows.Scan(&story.ID, &story.UserStoryID, &story.Title, &story.EpicID,
			&story.Component, &issueNumber, &story.Status, &story.CreatedAt, &story.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user story: %w", err)
		}
		if issueNumber.Valid {
			n := int(issueNumber.Int64)
			story.IssueNumber = &n
		}
		stories = append(stories, &story)
	}
	return stories, rows.Err()
}
