package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

func TestNewStampsMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ver, err := store.GetMetadata(ctx, "schema_version")
	if err != nil {
		t.Fatalf("failed to read schema_version: %v", err)
	}
	if ver != SchemaVersion {
		t.Errorf("schema_version = %q, want %q", ver, SchemaVersion)
	}

	id, err := store.GetMetadata(ctx, "database_id")
	if err != nil {
		t.Fatalf("failed to read database_id: %v", err)
	}
	if id == "" {
		t.Error("database_id should be minted on first open")
	}
}

func TestConfigRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetConfig(ctx, "scan_root", "./src"); err != nil {
		t.Fatalf("failed to set config: %v", err)
	}
	got, err := store.GetConfig(ctx, "scan_root")
	if err != nil {
		t.Fatalf("failed to get config: %v", err)
	}
	if got != "./src" {
		t.Errorf("config value = %q, want %q", got, "./src")
	}

	// Overwrite
	if err := store.SetConfig(ctx, "scan_root", "./lib"); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}
	got, _ = store.GetConfig(ctx, "scan_root")
	if got != "./lib" {
		t.Errorf("config value after overwrite = %q, want %q", got, "./lib")
	}

	// Missing key is empty, not an error
	got, err = store.GetConfig(ctx, "no_such_key")
	if err != nil || got != "" {
		t.Errorf("missing key = (%q, %v), want empty no error", got, err)
	}

	all, err := store.GetAllConfig(ctx)
	if err != nil {
		t.Fatalf("failed to get all config: %v", err)
	}
	if all["scan_root"] != "./lib" {
		t.Errorf("GetAllConfig missing scan_root, got %v", all)
	}

	if err := store.DeleteConfig(ctx, "scan_root"); err != nil {
		t.Fatalf("failed to delete config: %v", err)
	}
	got, _ = store.GetConfig(ctx, "scan_root")
	if got != "" {
		t.Errorf("config value after delete = %q, want empty", got)
	}
}

func TestCapabilityCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	c := &types.Capability{
		CapabilityID: "CAP-1",
		Name:         "Payments",
		Component:    "backend,payments",
	}
	if err := store.CreateCapability(ctx, c, "tester"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("create should populate the row id")
	}

	got, err := store.GetCapabilityByKey(ctx, "CAP-1")
	if err != nil {
		t.Fatalf("failed to get capability: %v", err)
	}
	if got.Name != "Payments" || got.Component != "backend,payments" {
		t.Errorf("unexpected capability: %+v", got)
	}

	if err := store.UpdateCapability(ctx, c.ID, map[string]interface{}{"component": "backend"}, "tester"); err != nil {
		t.Fatalf("failed to update capability: %v", err)
	}
	got, _ = store.GetCapability(ctx, c.ID)
	if got.Component != "backend" {
		t.Errorf("component = %q after update, want %q", got.Component, "backend")
	}

	// Duplicate business key
	dup := &types.Capability{CapabilityID: "CAP-1", Name: "Other"}
	err = store.CreateCapability(ctx, dup, "tester")
	if !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("duplicate capability_id should be an integrity violation, got: %v", err)
	}
}

func TestEpicCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	epic := &types.Epic{
		EpicID:   "EP-1",
		Title:    "Checkout",
		Status:   types.StatusPlanned,
		Priority: types.PriorityMedium,
	}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	got, err := store.GetEpicByKey(ctx, "EP-1")
	if err != nil {
		t.Fatalf("failed to get epic by key: %v", err)
	}
	if got.ID != epic.ID || got.Title != "Checkout" {
		t.Errorf("unexpected epic: %+v", got)
	}
	if got.CapabilityID != nil {
		t.Errorf("capability_id should be nil, got %v", *got.CapabilityID)
	}

	_, err = store.GetEpic(ctx, 9999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing epic should be ErrNotFound, got: %v", err)
	}

	if err := store.UpdateEpic(ctx, epic.ID, map[string]interface{}{"status": "in_progress"}, "tester"); err != nil {
		t.Fatalf("failed to update epic: %v", err)
	}
	got, _ = store.GetEpic(ctx, epic.ID)
	if got.Status != types.StatusInProgress {
		t.Errorf("status = %q after update, want in_progress", got.Status)
	}

	// Invalid field name rejected
	err = store.UpdateEpic(ctx, epic.ID, map[string]interface{}{"epic_id; DROP TABLE epics": "x"}, "tester")
	if err == nil {
		t.Error("unknown update field should be rejected")
	}

	// Invalid status value rejected
	err = store.UpdateEpic(ctx, epic.ID, map[string]interface{}{"status": "bogus"}, "tester")
	if err == nil {
		t.Error("invalid status should be rejected")
	}
}

func TestUserStoryLookupByIssue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	issue := 101
	story := &types.UserStory{
		UserStoryID: "US-1",
		Title:       "Pay by card",
		EpicID:      epic.ID,
		IssueNumber: &issue,
		Status:      types.StatusPlanned,
	}
	if err := store.CreateUserStory(ctx, story, "tester"); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}

	got, err := store.GetUserStoryByIssue(ctx, 101)
	if err != nil {
		t.Fatalf("failed to get story by issue: %v", err)
	}
	if got.UserStoryID != "US-1" {
		t.Errorf("got story %q, want US-1", got.UserStoryID)
	}

	_, err = store.GetUserStoryByIssue(ctx, 999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing issue number should be ErrNotFound, got: %v", err)
	}

	// A story with a dangling epic reference must be rejected by the FK
	bad := &types.UserStory{UserStoryID: "US-2", Title: "Orphan", EpicID: 9999, Status: types.StatusPlanned}
	err = store.CreateUserStory(ctx, bad, "tester")
	if !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("dangling epic_id should be an integrity violation, got: %v", err)
	}
}

func TestCreateTestAccumulatesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		test := &types.Test{
			FunctionName: "test_checkout_total",
			FilePath:     "tests/unit/test_checkout.py",
			Priority:     types.PriorityMedium,
		}
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test row %d: %v", i, err)
		}
	}

	count, err := store.CountTests(ctx)
	if err != nil {
		t.Fatalf("failed to count tests: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3 (duplicates accumulate)", count)
	}

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	if stats.DuplicateTestKeys != 1 {
		t.Errorf("duplicate keys = %d, want 1", stats.DuplicateTestKeys)
	}
	if stats.Tests != 3 {
		t.Errorf("stats.Tests = %d, want 3", stats.Tests)
	}
}

func TestDeleteTests(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		test := &types.Test{
			FunctionName: "test_a",
			FilePath:     "tests/test_a.py",
			Priority:     types.PriorityMedium,
		}
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
		ids = append(ids, test.ID)
	}

	if err := store.DeleteTests(ctx, ids[:2], types.EventDuplicateRemoved, "dedup"); err != nil {
		t.Fatalf("failed to delete tests: %v", err)
	}

	count, _ := store.CountTests(ctx)
	if count != 1 {
		t.Errorf("count after delete = %d, want 1", count)
	}

	// Deletion reason is recorded in the audit trail
	events, err := store.GetEvents(ctx, types.KindTest, ids[0], 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == types.EventDuplicateRemoved {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate_removed event, got %+v", events)
	}

	// Empty id set is a no-op
	if err := store.DeleteTests(ctx, nil, types.EventDuplicateRemoved, "dedup"); err != nil {
		t.Errorf("empty delete should be a no-op, got: %v", err)
	}
}

func TestListTestsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	withEpic := &types.Test{FunctionName: "test_a", FilePath: "tests/test_a.py", EpicID: &epic.ID, Component: "backend", Priority: types.PriorityMedium}
	without := &types.Test{FunctionName: "test_b", FilePath: "tests/test_b.py", Priority: types.PriorityMedium}
	for _, tt := range []*types.Test{withEpic, without} {
		if err := store.CreateTest(ctx, tt, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
	}

	hasComponent := false
	missing, err := store.ListTests(ctx, types.TestFilter{HasComponent: &hasComponent})
	if err != nil {
		t.Fatalf("failed to list tests: %v", err)
	}
	if len(missing) != 1 || missing[0].FunctionName != "test_b" {
		t.Errorf("expected only test_b to lack a component, got %d rows", len(missing))
	}

	byEpic, err := store.ListTests(ctx, types.TestFilter{EpicID: &epic.ID})
	if err != nil {
		t.Fatalf("failed to list tests by epic: %v", err)
	}
	if len(byEpic) != 1 || byEpic[0].FunctionName != "test_a" {
		t.Errorf("expected only test_a under the epic, got %d rows", len(byEpic))
	}
}

func TestDependencyIntegrity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := &types.Epic{EpicID: "EP-A", Title: "A", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	b := &types.Epic{EpicID: "EP-B", Title: "B", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	for _, e := range []*types.Epic{a, b} {
		if err := store.CreateEpic(ctx, e, "tester"); err != nil {
			t.Fatalf("failed to create epic: %v", err)
		}
	}

	dep := &types.EpicDependency{
		ParentEpicID:        a.ID,
		DependentEpicID:     b.ID,
		DependencyType:      types.DepPrerequisite,
		Priority:            types.PriorityMedium,
		EstimatedImpactDays: 2,
		IsActive:            true,
	}
	if err := store.AddEpicDependency(ctx, dep, "planner"); err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}

	// Self-loop rejected
	selfLoop := &types.EpicDependency{
		ParentEpicID:    a.ID,
		DependentEpicID: a.ID,
		DependencyType:  types.DepBlocking,
		Priority:        types.PriorityMedium,
	}
	err := store.AddEpicDependency(ctx, selfLoop, "planner")
	if !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("self-loop should be an integrity violation, got: %v", err)
	}

	// Duplicate (parent, dependent, type) rejected
	dup := &types.EpicDependency{
		ParentEpicID:    a.ID,
		DependentEpicID: b.ID,
		DependencyType:  types.DepPrerequisite,
		Priority:        types.PriorityHigh,
	}
	err = store.AddEpicDependency(ctx, dup, "planner")
	if !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("duplicate edge should be an integrity violation, got: %v", err)
	}

	// Same pair with a different type is allowed
	other := &types.EpicDependency{
		ParentEpicID:    a.ID,
		DependentEpicID: b.ID,
		DependencyType:  types.DepTechnical,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, other, "planner"); err != nil {
		t.Errorf("distinct type between the same pair should be allowed, got: %v", err)
	}
}

func TestResolveEpicDependency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := &types.Epic{EpicID: "EP-A", Title: "A", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	b := &types.Epic{EpicID: "EP-B", Title: "B", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	for _, e := range []*types.Epic{a, b} {
		if err := store.CreateEpic(ctx, e, "tester"); err != nil {
			t.Fatalf("failed to create epic: %v", err)
		}
	}

	dep := &types.EpicDependency{
		ParentEpicID:    a.ID,
		DependentEpicID: b.ID,
		DependencyType:  types.DepBlocking,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, dep, "planner"); err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}

	active, err := store.ListEpicDependencies(ctx, true)
	if err != nil {
		t.Fatalf("failed to list active dependencies: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active edges = %d, want 1", len(active))
	}

	if err := store.ResolveEpicDependency(ctx, dep.ID, "planner"); err != nil {
		t.Fatalf("failed to resolve dependency: %v", err)
	}

	active, _ = store.ListEpicDependencies(ctx, true)
	if len(active) != 0 {
		t.Errorf("active edges after resolve = %d, want 0", len(active))
	}

	all, _ := store.ListEpicDependencies(ctx, false)
	if len(all) != 1 || !all[0].IsResolved || all[0].ResolutionDate == nil {
		t.Errorf("resolved edge should persist with resolution date, got %+v", all[0])
	}

	// Resolving again reports not found
	err = store.ResolveEpicDependency(ctx, dep.ID, "planner")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double resolve should be ErrNotFound, got: %v", err)
	}
}

func TestLastExecutionTimeRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ran := time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)
	test := &types.Test{
		FunctionName:      "test_login",
		FilePath:          "tests/test_auth.py",
		Priority:          types.PriorityHigh,
		PriorityExplicit:  true,
		LastExecutionTime: &ran,
	}
	if err := store.CreateTest(ctx, test, "importer"); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	got, err := store.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.LastExecutionTime == nil {
		t.Fatal("last_execution_time should round-trip")
	}
	if !got.LastExecutionTime.Equal(ran) {
		t.Errorf("last_execution_time = %v, want %v", got.LastExecutionTime, ran)
	}
	if !got.PriorityExplicit {
		t.Error("priority_explicit should round-trip")
	}
}
