package inherit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/storage/sqlite"
	"github.com/stitchtrace/stitch/internal/types"
)

func setupTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "stitch.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createCapability(t *testing.T, store storage.Storage, key, component string) *types.Capability {
	t.Helper()
	c := &types.Capability{CapabilityID: key, Name: key, Component: component}
	if err := store.CreateCapability(context.Background(), c, "test"); err != nil {
		t.Fatalf("failed to create capability %s: %v", key, err)
	}
	return c
}

func createEpic(t *testing.T, store storage.Storage, key, component string, capID *int64) *types.Epic {
	t.Helper()
	epic := &types.Epic{
		EpicID:       key,
		Title:        key,
		Component:    component,
		CapabilityID: capID,
		Status:       types.StatusPlanned,
		Priority:     types.PriorityMedium,
	}
	if err := store.CreateEpic(context.Background(), epic, "test"); err != nil {
		t.Fatalf("failed to create epic %s: %v", key, err)
	}
	return epic
}

func createStory(t *testing.T, store storage.Storage, key string, epicID int64, component string, issue *int) *types.UserStory {
	t.Helper()
	story := &types.UserStory{
		UserStoryID: key,
		Title:       key,
		EpicID:      epicID,
		Component:   component,
		IssueNumber: issue,
		Status:      types.StatusPlanned,
	}
	if err := store.CreateUserStory(context.Background(), story, "test"); err != nil {
		t.Fatalf("failed to create story %s: %v", key, err)
	}
	return story
}

func createTest(t *testing.T, store storage.Storage, fn, path string, mutate func(*types.Test)) *types.Test {
	t.Helper()
	test := &types.Test{FunctionName: fn, FilePath: path, Priority: types.PriorityMedium}
	if mutate != nil {
		mutate(test)
	}
	if err := store.CreateTest(context.Background(), test, "test"); err != nil {
		t.Fatalf("failed to create test %s: %v", fn, err)
	}
	return test
}

func TestResolveTestThroughStory(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 10
	createStory(t, store, "US-1", epic.ID, "backend", &issue)
	test := createTest(t, store, "test_login", "tests/test_auth.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !changed {
		t.Fatal("expected the test to change")
	}
	if test.Component != "backend" {
		t.Errorf("component = %q, want backend", test.Component)
	}

	// The write is persisted, not just in-memory
	got, err := store.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to reload test: %v", err)
	}
	if got.Component != "backend" {
		t.Errorf("persisted component = %q, want backend", got.Component)
	}
}

func TestResolveTestFallsBackToEpic(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "frontend", nil)
	test := createTest(t, store, "test_render", "tests/test_ui.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !changed || test.Component != "frontend" {
		t.Errorf("changed=%v component=%q, want true/frontend", changed, test.Component)
	}
}

func TestResolveTestViaStoryEpic(t *testing.T) {
	// The story itself has no component, but its epic does; the chain
	// must continue through the story's epic even though the test has no
	// direct epic reference.
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "data", nil)
	issue := 20
	createStory(t, store, "US-1", epic.ID, "", &issue)
	test := createTest(t, store, "test_etl", "tests/test_etl.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !changed || test.Component != "data" {
		t.Errorf("changed=%v component=%q, want true/data", changed, test.Component)
	}
}

func TestResolveTakesFirstTagOnly(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend, api, auth", nil)
	test := createTest(t, store, "test_token", "tests/test_token.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
	})

	if _, err := r.ResolveTest(ctx, test, false); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if test.Component != "backend" {
		t.Errorf("component = %q, want the first listed tag", test.Component)
	}

	tags, err := r.InheritedComponents(ctx, r.TestChain(test))
	if err != nil {
		t.Fatalf("inherited components failed: %v", err)
	}
	want := []string{"backend", "api", "auth"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestResolveRespectsExistingComponent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	test := createTest(t, store, "test_x", "tests/test_x.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
		tt.Component = "custom"
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if changed {
		t.Error("a set component should not change without force")
	}
	if test.Component != "custom" {
		t.Errorf("component = %q, want custom", test.Component)
	}

	// force overwrites the override
	changed, err = r.ResolveTest(ctx, test, true)
	if err != nil {
		t.Fatalf("forced resolve failed: %v", err)
	}
	if !changed || test.Component != "backend" {
		t.Errorf("changed=%v component=%q, want true/backend", changed, test.Component)
	}
}

func TestResolveNoAncestorIsNoop(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	// Epic exists but has no component anywhere in the chain.
	epic := createEpic(t, store, "EP-1", "", nil)
	test := createTest(t, store, "test_alone", "tests/test_alone.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve should not error on missing ancestors: %v", err)
	}
	if changed || test.Component != "" {
		t.Errorf("changed=%v component=%q, want false/empty", changed, test.Component)
	}
}

func TestResolveUnresolvableStoryReference(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	// The story issue points at nothing; the direct epic still answers.
	epic := createEpic(t, store, "EP-1", "backend", nil)
	ghost := 999
	test := createTest(t, store, "test_ghost", "tests/test_ghost.py", func(tt *types.Test) {
		tt.UserStoryIssue = &ghost
		tt.EpicID = &epic.ID
	})

	changed, err := r.ResolveTest(ctx, test, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !changed || test.Component != "backend" {
		t.Errorf("changed=%v component=%q, want true/backend", changed, test.Component)
	}
}

func TestResolveEpicFromCapability(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	c := createCapability(t, store, "CAP-1", "platform,infra")
	epic := createEpic(t, store, "EP-1", "", &c.ID)

	changed, err := r.ResolveEpic(ctx, epic, false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !changed || epic.Component != "platform" {
		t.Errorf("changed=%v component=%q, want true/platform", changed, epic.Component)
	}
}

func TestFullInheritanceChainPropagation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 1
	story := createStory(t, store, "US-1", epic.ID, "", &issue)
	test := createTest(t, store, "test_t1", "tests/test_t1.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	stats, err := r.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("full chain failed: %v", err)
	}
	if stats.Updated != 2 {
		t.Errorf("updated = %d, want 2 (story and test)", stats.Updated)
	}
	if stats.Errors != 0 {
		t.Errorf("errors = %d, want 0", stats.Errors)
	}

	gotStory, _ := store.GetUserStory(ctx, story.ID)
	if gotStory.Component != "backend" {
		t.Errorf("story component = %q, want backend", gotStory.Component)
	}
	gotTest, _ := store.GetTest(ctx, test.ID)
	if gotTest.Component != "backend" {
		t.Errorf("test component = %q, want backend", gotTest.Component)
	}
}

func TestFullInheritanceChainIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	c := createCapability(t, store, "CAP-1", "platform")
	epic := createEpic(t, store, "EP-1", "", &c.ID)
	issue := 5
	createStory(t, store, "US-1", epic.ID, "", &issue)
	createTest(t, store, "test_a", "tests/test_a.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	first, err := r.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if first.Updated == 0 {
		t.Fatal("first pass should update something")
	}

	second, err := r.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.Updated != 0 {
		t.Errorf("second pass updated = %d, want 0", second.Updated)
	}
}

func TestFullChainConvergesToZeroMismatches(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	issue := 7
	createStory(t, store, "US-1", epic.ID, "", &issue)
	createTest(t, store, "test_conv", "tests/test_conv.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	if _, err := r.ProcessFullInheritanceChain(ctx, false); err != nil {
		t.Fatalf("full chain failed: %v", err)
	}

	report, err := NewValidator(store).Validate(ctx)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if report.Total != 0 {
		t.Errorf("mismatches after convergence = %d, want 0: %+v", report.Total, report)
	}
}

func TestBatchSkipsEntitiesWithComponents(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)

	epic := createEpic(t, store, "EP-1", "backend", nil)
	createTest(t, store, "test_set", "tests/test_set.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
		tt.Component = "custom"
	})
	createTest(t, store, "test_unset", "tests/test_unset.py", func(tt *types.Test) {
		tt.EpicID = &epic.ID
	})

	stats, err := r.ProcessAllTestInheritance(ctx, false)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if stats.Total != 1 || stats.Updated != 1 {
		t.Errorf("stats = %+v, want total 1 updated 1", stats)
	}

	got, _ := store.ListTests(ctx, types.TestFilter{})
	byName := map[string]string{}
	for _, tt := range got {
		byName[tt.FunctionName] = tt.Component
	}
	if byName["test_set"] != "custom" {
		t.Errorf("explicit override lost: %q", byName["test_set"])
	}
	if byName["test_unset"] != "backend" {
		t.Errorf("missing component not filled: %q", byName["test_unset"])
	}
}

func TestDryRunCountsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	r := NewResolver(store)
	r.DryRun = true

	c := createCapability(t, store, "CAP-1", "backend")
	epic := createEpic(t, store, "EP-1", "", &c.ID)
	issue := 1
	createStory(t, store, "US-1", epic.ID, "", &issue)
	createTest(t, store, "test_api", "tests/test_api.py", func(tt *types.Test) {
		tt.UserStoryIssue = &issue
	})

	stats, err := r.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if stats.Updated != 3 {
		t.Errorf("dry-run updated = %d, want 3", stats.Updated)
	}

	// Nothing persisted
	gotEpic, err := store.GetEpic(ctx, epic.ID)
	if err != nil {
		t.Fatalf("failed to reload epic: %v", err)
	}
	if gotEpic.Component != "" {
		t.Errorf("dry run wrote epic component %q", gotEpic.Component)
	}
	tests, _ := store.ListTests(ctx, types.TestFilter{})
	if len(tests) != 1 || tests[0].Component != "" {
		t.Errorf("dry run wrote test component %q", tests[0].Component)
	}

	// The same run live matches the dry-run plan
	r.DryRun = false
	live, err := r.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("live run failed: %v", err)
	}
	if live.Updated != stats.Updated {
		t.Errorf("live updated = %d, dry-run predicted %d", live.Updated, stats.Updated)
	}
}
