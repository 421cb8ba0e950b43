package inherit

import (
	"context"
	"fmt"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// Mismatch records one child whose component disagrees with its parent
// user story's component.
type Mismatch struct {
	ChildID         int64  `json:"child_id"`
	ChildComponent  string `json:"child_component"`
	ParentID        int64  `json:"parent_id"`
	ParentComponent string `json:"parent_component"`
}

// Report is the result of one validation sweep.
type Report struct {
	TestMismatches   []Mismatch `json:"test_mismatches"`
	DefectMismatches []Mismatch `json:"defect_mismatches"`
	Total            int        `json:"total"`
}

// Validator audits tests and defects against their parent user stories.
// Read-only; operators use the report to decide whether to re-run
// inheritance with force.
type Validator struct {
	store storage.Storage
}

func NewValidator(store storage.Storage) *Validator {
	return &Validator{store: store}
}

// Validate compares every test and defect that has a component and a
// resolvable parent story (with a component of its own) for equality.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	storiesByIssue, err := v.storiesByIssue(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}

	tests, err := v.store.ListTests(ctx, types.TestFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	for _, t := range tests {
		if m := checkAgainstStory(t.Component, t.UserStoryIssue, t.ID, storiesByIssue); m != nil {
			report.TestMismatches = append(report.TestMismatches, *m)
		}
	}

	defects, err := v.store.ListDefects(ctx, types.DefectFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list defects: %w", err)
	}
	for _, d := range defects {
		if m := checkAgainstStory(d.Component, d.UserStoryIssue, d.ID, storiesByIssue); m != nil {
			report.DefectMismatches = append(report.DefectMismatches, *m)
		}
	}

	report.Total = len(report.TestMismatches) + len(report.DefectMismatches)
	return report, nil
}

func (v *Validator) storiesByIssue(ctx context.Context) (map[int]*types.UserStory, error) {
	stories, err := v.store.ListUserStories(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list user stories: %w", err)
	}
	byIssue := make(map[int]*types.UserStory, len(stories))
	for _, s := range stories {
		if s.IssueNumber != nil {
			byIssue[*s.IssueNumber] = s
		}
	}
	return byIssue, nil
}

// checkAgainstStory applies the mismatch rule: both sides must have a
// component and the child must carry a resolvable story reference,
// otherwise there is nothing to compare.
func checkAgainstStory(childComponent string, storyIssue *int, childID int64, stories map[int]*types.UserStory) *Mismatch {
	if childComponent == "" || storyIssue == nil {
		return nil
	}
	story, ok := stories[*storyIssue]
	if !ok || story.Component == "" {
		return nil
	}
	if childComponent == story.Component {
		return nil
	}
	return &Mismatch{
		ChildID:         childID,
		ChildComponent:  childComponent,
		ParentID:        story.ID,
		ParentComponent: story.Component,
	}
}
