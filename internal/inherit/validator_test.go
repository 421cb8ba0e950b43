package inherit

import (
	"context"
	"testing"

	"github.com/stitchtrace/stitch/internal/types"
)

func TestValidateReportsMismatches(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 30
	story := createStory(t, store, "US-1", epic.ID, "backend", &issue)

	createTest(t, store, "test_ok", "tests/test_ok.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
		tt.Component = "backend"
	})
	drifted := createTest(t, store, "test_drift", "tests/test_drift.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
		tt.Component = "frontend"
	})

	report, err := NewValidator(store).Validate(ctx)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if report.Total != 1 {
		t.Fatalf("total = %d, want 1", report.Total)
	}
	if len(report.TestMismatches) != 1 {
		t.Fatalf("test mismatches = %d, want 1", len(report.TestMismatches))
	}

	m := report.TestMismatches[0]
	if m.ChildID != drifted.ID {
		t.Errorf("child id = %d, want %d", m.ChildID, drifted.ID)
	}
	if m.ChildComponent != "frontend" || m.ParentComponent != "backend" {
		t.Errorf("mismatch components = %q vs %q", m.ChildComponent, m.ParentComponent)
	}
	if m.ParentID != story.ID {
		t.Errorf("parent id = %d, want %d", m.ParentID, story.ID)
	}
}

func TestValidateSkipsUnsetAndUnresolvable(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 31
	createStory(t, store, "US-1", epic.ID, "", &issue)

	// No component on the child: nothing to compare.
	createTest(t, store, "test_unset", "tests/test_unset.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})
	// Component set but the story has none: nothing to compare.
	createTest(t, store, "test_parent_unset", "tests/test_pu.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
		tt.Component = "backend"
	})
	// Story reference that resolves to nothing: nothing to compare.
	ghost := 404
	createTest(t, store, "test_ghost", "tests/test_ghost.py", func(tt *types.Test) {
		tt.UserStoryIssue = &ghost
		tt.Component = "backend"
	})

	report, err := NewValidator(store).Validate(ctx)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if report.Total != 0 {
		t.Errorf("total = %d, want 0: %+v", report.Total, report)
	}
}

func TestValidateCoversDefects(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 32
	createStory(t, store, "US-1", epic.ID, "api", &issue)

	defect := &types.Defect{
		DefectID:       "DF-1",
		Title:          "Broken login",
		Component:      "frontend",
		UserStoryIssue: &issue,
		Severity:       types.SeverityHigh,
		Status:         types.DefectOpen,
	}
	if err := store.CreateDefect(ctx, defect, "test"); err != nil {
		t.Fatalf("failed to create defect: %v", err)
	}

	report, err := NewValidator(store).Validate(ctx)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if len(report.DefectMismatches) != 1 {
		t.Fatalf("defect mismatches = %d, want 1", len(report.DefectMismatches))
	}
	m := report.DefectMismatches[0]
	if m.ChildComponent != "frontend" || m.ParentComponent != "api" {
		t.Errorf("mismatch = %+v", m)
	}
}
