package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stitchtrace/stitch/internal/graph"
	"github.com/stitchtrace/stitch/internal/inherit"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

func TestCapabilityLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

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
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("create should stamp timestamps")
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

	dup := &types.Capability{CapabilityID: "CAP-1", Name: "Other"}
	err = store.CreateCapability(ctx, dup, "tester")
	if !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("duplicate capability_id should be an integrity violation, got: %v", err)
	}

	if _, err := store.GetCapabilityByKey(ctx, "CAP-404"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing capability should be ErrNotFound, got: %v", err)
	}
}

func TestReferentialIntegrity(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	missing := int64(999)
	epic := &types.Epic{
		EpicID:       "EP-1",
		Title:        "Checkout",
		CapabilityID: &missing,
		Status:       types.StatusPlanned,
		Priority:     types.PriorityMedium,
	}
	if err := store.CreateEpic(ctx, epic, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("dangling capability ref should be an integrity violation, got: %v", err)
	}

	epic.CapabilityID = nil
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	story := &types.UserStory{
		UserStoryID: "US-1",
		Title:       "Pay by card",
		EpicID:      missing,
		Status:      types.StatusPlanned,
	}
	if err := store.CreateUserStory(ctx, story, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("dangling epic ref should be an integrity violation, got: %v", err)
	}

	story.EpicID = epic.ID
	if err := store.CreateUserStory(ctx, story, "tester"); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}

	test := &types.Test{
		FunctionName: "test_pay",
		FilePath:     "tests/test_pay.py",
		EpicID:       &missing,
		Priority:     types.PriorityMedium,
	}
	if err := store.CreateTest(ctx, test, "importer"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("dangling test epic ref should be an integrity violation, got: %v", err)
	}
}

func TestUpdateRejectsBadFields(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	cases := []struct {
		name    string
		updates map[string]interface{}
	}{
		{"unknown column", map[string]interface{}{"owner": "bob"}},
		{"bad status", map[string]interface{}{"status": "someday"}},
		{"bad priority", map[string]interface{}{"priority": "urgent"}},
		{"empty title", map[string]interface{}{"title": ""}},
		{"negative days", map[string]interface{}{"estimated_impact_days": -1.0}},
		{"partial with unknown column", map[string]interface{}{"component": "payments", "owner": "bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.UpdateEpic(ctx, epic.ID, tc.updates, "tester"); err == nil {
				t.Fatalf("update %v should fail", tc.updates)
			}
		})
	}

	// A rejected update must leave the row untouched, even when some of
	// its fields were acceptable.
	got, err := store.GetEpic(ctx, epic.ID)
	if err != nil {
		t.Fatalf("failed to get epic: %v", err)
	}
	if got.Title != "Checkout" || got.Status != types.StatusPlanned || got.Component != "" {
		t.Errorf("rejected updates leaked into the row: %+v", got)
	}

	if err := store.UpdateEpic(ctx, 999, map[string]interface{}{"component": "x"}, "tester"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("updating a missing row should be ErrNotFound, got: %v", err)
	}
}

func TestStoryIssueNumberUnique(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	issue := 101
	first := &types.UserStory{UserStoryID: "US-1", Title: "Pay", EpicID: epic.ID, IssueNumber: &issue, Status: types.StatusPlanned}
	if err := store.CreateUserStory(ctx, first, "tester"); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}

	second := &types.UserStory{UserStoryID: "US-2", Title: "Refund", EpicID: epic.ID, IssueNumber: &issue, Status: types.StatusPlanned}
	if err := store.CreateUserStory(ctx, second, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("duplicate issue_number should be an integrity violation, got: %v", err)
	}

	other := 102
	second.IssueNumber = &other
	if err := store.CreateUserStory(ctx, second, "tester"); err != nil {
		t.Fatalf("failed to create second story: %v", err)
	}

	got, err := store.GetUserStoryByIssue(ctx, 101)
	if err != nil {
		t.Fatalf("failed to look up story by issue: %v", err)
	}
	if got.UserStoryID != "US-1" {
		t.Errorf("issue 101 resolved to %s, want US-1", got.UserStoryID)
	}

	// Moving a story onto a taken issue number must fail the same way.
	if err := store.UpdateUserStory(ctx, second.ID, map[string]interface{}{"issue_number": 101}, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("update onto taken issue_number should be an integrity violation, got: %v", err)
	}
}

func TestCreateTestAccumulatesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	for i := 0; i < 2; i++ {
		test := &types.Test{FunctionName: "test_charge", FilePath: "tests/test_charge.py", Priority: types.PriorityMedium}
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
	}

	count, err := store.CountTests(ctx)
	if err != nil {
		t.Fatalf("failed to count tests: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (duplicates accumulate)", count)
	}

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	if stats.DuplicateTestKeys != 1 {
		t.Errorf("duplicate keys = %d, want 1", stats.DuplicateTestKeys)
	}
}

func TestListTestsFilters(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	seed := []*types.Test{
		{FunctionName: "test_a", FilePath: "tests/test_a.py", Component: "payments", Priority: types.PriorityMedium},
		{FunctionName: "test_b", FilePath: "tests/test_b.py", EpicID: &epic.ID, Priority: types.PriorityMedium},
		{FunctionName: "test_a", FilePath: "tests/test_a2.py", Priority: types.PriorityMedium},
	}
	for _, test := range seed {
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
	}

	fn := "test_a"
	rows, err := store.ListTests(ctx, types.TestFilter{FunctionName: &fn})
	if err != nil {
		t.Fatalf("failed to list tests: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("function filter = %d rows, want 2", len(rows))
	}
	if rows[0].ID > rows[1].ID {
		t.Errorf("rows not ordered by id: %d before %d", rows[0].ID, rows[1].ID)
	}

	hasComponent := false
	rows, _ = store.ListTests(ctx, types.TestFilter{HasComponent: &hasComponent})
	if len(rows) != 2 {
		t.Errorf("missing-component filter = %d rows, want 2", len(rows))
	}

	rows, _ = store.ListTests(ctx, types.TestFilter{EpicID: &epic.ID})
	if len(rows) != 1 || rows[0].FunctionName != "test_b" {
		t.Errorf("epic filter returned %d rows, want just test_b", len(rows))
	}

	rows, _ = store.ListTests(ctx, types.TestFilter{Limit: 1})
	if len(rows) != 1 || rows[0].FunctionName != "test_a" {
		t.Errorf("limit filter should return the first row by id")
	}
}

func TestDeleteTestsRecordsReason(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	var ids []int64
	for i := 0; i < 2; i++ {
		test := &types.Test{FunctionName: "test_orphan", FilePath: "tests/test_orphan.py", Priority: types.PriorityMedium}
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
		ids = append(ids, test.ID)
	}

	if err := store.DeleteTests(ctx, ids, types.EventOrphanRemoved, "dedup"); err != nil {
		t.Fatalf("failed to delete tests: %v", err)
	}
	count, _ := store.CountTests(ctx)
	if count != 0 {
		t.Errorf("count after delete = %d, want 0", count)
	}

	events, err := store.GetEvents(ctx, types.KindTest, ids[0], 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	if events[0].EventType != types.EventOrphanRemoved || events[1].EventType != types.EventCreated {
		t.Errorf("event order = [%s, %s], want newest first", events[0].EventType, events[1].EventType)
	}
}

func TestDependencyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	var epicIDs []int64
	for _, key := range []string{"EP-1", "EP-2"} {
		epic := &types.Epic{EpicID: key, Title: key, Status: types.StatusPlanned, Priority: types.PriorityMedium}
		if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
			t.Fatalf("failed to create epic: %v", err)
		}
		epicIDs = append(epicIDs, epic.ID)
	}

	dep := &types.EpicDependency{
		ParentEpicID:        epicIDs[0],
		DependentEpicID:     epicIDs[1],
		DependencyType:      types.DepPrerequisite,
		Priority:            types.PriorityMedium,
		EstimatedImpactDays: 2.5,
		IsActive:            true,
	}
	if err := store.AddEpicDependency(ctx, dep, "tester"); err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}

	// Duplicate (parent, dependent, type) triple
	dup := &types.EpicDependency{
		ParentEpicID:    epicIDs[0],
		DependentEpicID: epicIDs[1],
		DependencyType:  types.DepPrerequisite,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, dup, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("duplicate edge should be an integrity violation, got: %v", err)
	}

	// Same pair under a different type is a distinct edge
	dup.DependencyType = types.DepTechnical
	if err := store.AddEpicDependency(ctx, dup, "tester"); err != nil {
		t.Fatalf("different-type edge should be accepted: %v", err)
	}

	selfLoop := &types.EpicDependency{
		ParentEpicID:    epicIDs[0],
		DependentEpicID: epicIDs[0],
		DependencyType:  types.DepPrerequisite,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, selfLoop, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("self-loop should be an integrity violation, got: %v", err)
	}

	dangling := &types.EpicDependency{
		ParentEpicID:    epicIDs[0],
		DependentEpicID: 999,
		DependencyType:  types.DepPrerequisite,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, dangling, "tester"); !errors.Is(err, storage.ErrIntegrityViolation) {
		t.Errorf("edge to unknown epic should be an integrity violation, got: %v", err)
	}

	if err := store.ResolveEpicDependency(ctx, dep.ID, "tester"); err != nil {
		t.Fatalf("failed to resolve dependency: %v", err)
	}
	active, err := store.ListEpicDependencies(ctx, true)
	if err != nil {
		t.Fatalf("failed to list dependencies: %v", err)
	}
	if len(active) != 1 || active[0].DependencyType != types.DepTechnical {
		t.Errorf("active edges = %d, want just the technical one", len(active))
	}
	all, _ := store.ListEpicDependencies(ctx, false)
	if len(all) != 2 {
		t.Errorf("all edges = %d, want 2", len(all))
	}
	resolved, err := store.GetEpicDependenciesFor(ctx, epicIDs[1])
	if err != nil {
		t.Fatalf("failed to get edges for epic: %v", err)
	}
	if len(resolved) != 2 || !resolved[0].IsResolved || resolved[0].ResolutionDate == nil {
		t.Errorf("resolved edge not marked: %+v", resolved[0])
	}

	if err := store.ResolveEpicDependency(ctx, dep.ID, "tester"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("re-resolving should be ErrNotFound, got: %v", err)
	}
}

func TestGetEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	c := &types.Capability{CapabilityID: "CAP-1", Name: "Payments"}
	if err := store.CreateCapability(ctx, c, "tester"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	for _, component := range []string{"backend", "payments"} {
		if err := store.UpdateCapability(ctx, c.ID, map[string]interface{}{"component": component}, "tester"); err != nil {
			t.Fatalf("failed to update capability: %v", err)
		}
	}

	events, err := store.GetEvents(ctx, types.KindCapability, c.ID, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("event count = %d, want 3", len(events))
	}
	if events[0].EventType != types.EventUpdated || events[2].EventType != types.EventCreated {
		t.Errorf("events not newest first: [%s ... %s]", events[0].EventType, events[2].EventType)
	}
	if events[0].NewValue == nil {
		t.Error("update event should carry the rendered update map")
	}

	limited, _ := store.GetEvents(ctx, types.KindCapability, c.ID, 2)
	if len(limited) != 2 || limited[0].ID != events[0].ID {
		t.Errorf("limit should keep the newest events")
	}
}

func TestStatisticsCounts(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	cap1 := &types.Capability{CapabilityID: "CAP-1", Name: "Payments"}
	if err := store.CreateCapability(ctx, cap1, "tester"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	var epicIDs []int64
	for _, key := range []string{"EP-1", "EP-2"} {
		epic := &types.Epic{EpicID: key, Title: key, Status: types.StatusPlanned, Priority: types.PriorityMedium}
		if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
			t.Fatalf("failed to create epic: %v", err)
		}
		epicIDs = append(epicIDs, epic.ID)
	}
	story := &types.UserStory{UserStoryID: "US-1", Title: "Pay", EpicID: epicIDs[0], Status: types.StatusPlanned}
	if err := store.CreateUserStory(ctx, story, "tester"); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}
	seed := []*types.Test{
		{FunctionName: "test_charge", FilePath: "tests/test_charge.py", Priority: types.PriorityMedium},
		{FunctionName: "test_charge", FilePath: "tests/test_charge.py", Priority: types.PriorityMedium},
		{FunctionName: "test_refund", FilePath: "tests/test_refund.py", EpicID: &epicIDs[0], Priority: types.PriorityMedium},
	}
	for _, test := range seed {
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
	}
	defect := &types.Defect{DefectID: "DF-1", Title: "Charge fails", Severity: types.SeverityHigh, Status: types.DefectOpen}
	if err := store.CreateDefect(ctx, defect, "tester"); err != nil {
		t.Fatalf("failed to create defect: %v", err)
	}
	dep := &types.EpicDependency{
		ParentEpicID:    epicIDs[0],
		DependentEpicID: epicIDs[1],
		DependencyType:  types.DepPrerequisite,
		Priority:        types.PriorityMedium,
		IsActive:        true,
	}
	if err := store.AddEpicDependency(ctx, dep, "tester"); err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("failed to get statistics: %v", err)
	}
	want := types.Statistics{
		Capabilities:      1,
		Epics:             2,
		UserStories:       1,
		Tests:             3,
		Defects:           1,
		Dependencies:      1,
		DuplicateTestKeys: 1,
		TestsWithoutEpic:  2,
		MissingComponents: 5, // 3 tests + 1 defect + 1 story
	}
	if *stats != want {
		t.Errorf("statistics = %+v, want %+v", *stats, want)
	}
}

func TestConfigRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	if err := store.SetConfig(ctx, "scan_root", "./src"); err != nil {
		t.Fatalf("failed to set config: %v", err)
	}
	got, err := store.GetConfig(ctx, "scan_root")
	if err != nil || got != "./src" {
		t.Errorf("config value = (%q, %v), want ./src", got, err)
	}

	// Missing key is empty, not an error
	got, err = store.GetConfig(ctx, "no_such_key")
	if err != nil || got != "" {
		t.Errorf("missing key = (%q, %v), want empty no error", got, err)
	}

	all, err := store.GetAllConfig(ctx)
	if err != nil || all["scan_root"] != "./src" {
		t.Errorf("GetAllConfig = (%v, %v)", all, err)
	}

	if err := store.DeleteConfig(ctx, "scan_root"); err != nil {
		t.Fatalf("failed to delete config: %v", err)
	}
	got, _ = store.GetConfig(ctx, "scan_root")
	if got != "" {
		t.Errorf("config value after delete = %q, want empty", got)
	}

	if err := store.SetMetadata(ctx, "schema_version", "1.2.0"); err != nil {
		t.Fatalf("failed to set metadata: %v", err)
	}
	ver, err := store.GetMetadata(ctx, "schema_version")
	if err != nil || ver != "1.2.0" {
		t.Errorf("metadata = (%q, %v), want 1.2.0", ver, err)
	}
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	c := &types.Capability{CapabilityID: "CAP-1", Name: "Payments"}
	if err := store.CreateCapability(ctx, c, "tester"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", CapabilityID: &c.ID, Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}

	got, err := store.GetEpic(ctx, epic.ID)
	if err != nil {
		t.Fatalf("failed to get epic: %v", err)
	}
	got.Title = "Mutated"
	*got.CapabilityID = 999

	again, _ := store.GetEpic(ctx, epic.ID)
	if again.Title != "Checkout" {
		t.Errorf("caller mutation leaked into the store: title = %q", again.Title)
	}
	if again.CapabilityID == nil || *again.CapabilityID != c.ID {
		t.Errorf("caller pointer mutation leaked into the store: capability = %v", again.CapabilityID)
	}

	// The caller's struct must also be detached from the stored row.
	epic.Title = "Caller side"
	listed, _ := store.ListEpics(ctx, types.EpicFilter{})
	if listed[0].Title != "Checkout" {
		t.Errorf("stored row shares memory with the caller's struct")
	}
}

func seedTxFixture(t *testing.T, store *MemoryStorage) (epicID int64, testIDs []int64) {
	t.Helper()
	ctx := context.Background()

	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}
	for i := 0; i < 3; i++ {
		test := &types.Test{FunctionName: "test_pay", FilePath: "tests/test_pay.py", Priority: types.PriorityMedium}
		if err := store.CreateTest(ctx, test, "importer"); err != nil {
			t.Fatalf("failed to create test: %v", err)
		}
		testIDs = append(testIDs, test.ID)
	}
	return epic.ID, testIDs
}

func TestRunInTransactionCommit(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()
	epicID, testIDs := seedTxFixture(t, store)

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateTest(ctx, testIDs[0], map[string]interface{}{"epic_id": epicID}, "dedup"); err != nil {
			return err
		}
		return tx.DeleteTests(ctx, testIDs[1:], types.EventDuplicateRemoved, "dedup")
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	count, _ := store.CountTests(ctx)
	if count != 1 {
		t.Errorf("count after commit = %d, want 1", count)
	}
	got, err := store.GetTest(ctx, testIDs[0])
	if err != nil {
		t.Fatalf("failed to get survivor: %v", err)
	}
	if got.EpicID == nil || *got.EpicID != epicID {
		t.Errorf("survivor epic_id = %v, want %d", got.EpicID, epicID)
	}
}

func TestRunInTransactionRollback(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()
	_, testIDs := seedTxFixture(t, store)

	boom := errors.New("phase failed")
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.DeleteTests(ctx, testIDs, types.EventDuplicateRemoved, "dedup"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got: %v", err)
	}

	count, _ := store.CountTests(ctx)
	if count != 3 {
		t.Errorf("count after rollback = %d, want 3", count)
	}

	// Rollback must also discard the deletion audit events.
	events, _ := store.GetEvents(ctx, types.KindTest, testIDs[0], 0)
	if len(events) != 1 || events[0].EventType != types.EventCreated {
		t.Errorf("rolled-back events leaked: %+v", events)
	}
}

func TestRunInTransactionPanicRollsBack(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()
	_, testIDs := seedTxFixture(t, store)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_ = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			if err := tx.DeleteTests(ctx, testIDs, types.EventDuplicateRemoved, "dedup"); err != nil {
				return err
			}
			panic("mid-phase crash")
		})
	}()

	count, _ := store.CountTests(ctx)
	if count != 3 {
		t.Errorf("count after panic = %d, want 3", count)
	}
}

func TestTransactionReadsItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()
	epicID, testIDs := seedTxFixture(t, store)

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.UpdateTest(ctx, testIDs[0], map[string]interface{}{"epic_id": epicID}, "dedup"); err != nil {
			return err
		}
		rows, err := tx.ListTests(ctx, types.TestFilter{EpicID: &epicID})
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			t.Errorf("in-transaction list = %d rows, want 1", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// The resolver and dependency analyzer only see the Storage interface;
// running them against the memory backend proves the two backends agree
// where the engines care.

func TestInheritanceChainOverMemory(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	c := &types.Capability{CapabilityID: "CAP-1", Name: "Payments", Component: "payments,billing"}
	if err := store.CreateCapability(ctx, c, "tester"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	epic := &types.Epic{EpicID: "EP-1", Title: "Checkout", CapabilityID: &c.ID, Status: types.StatusPlanned, Priority: types.PriorityMedium}
	if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
		t.Fatalf("failed to create epic: %v", err)
	}
	issue := 101
	story := &types.UserStory{UserStoryID: "US-1", Title: "Pay by card", EpicID: epic.ID, IssueNumber: &issue, Status: types.StatusPlanned}
	if err := store.CreateUserStory(ctx, story, "tester"); err != nil {
		t.Fatalf("failed to create story: %v", err)
	}
	test := &types.Test{FunctionName: "test_charge", FilePath: "tests/test_charge.py", UserStoryIssue: &issue, Priority: types.PriorityMedium}
	if err := store.CreateTest(ctx, test, "importer"); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	defect := &types.Defect{DefectID: "DF-1", Title: "Charge fails", EpicID: &epic.ID, Severity: types.SeverityHigh, Status: types.DefectOpen}
	if err := store.CreateDefect(ctx, defect, "tester"); err != nil {
		t.Fatalf("failed to create defect: %v", err)
	}

	resolver := inherit.NewResolver(store)
	stats, err := resolver.ProcessFullInheritanceChain(ctx, false)
	if err != nil {
		t.Fatalf("inheritance chain failed: %v", err)
	}
	if stats.Updated != 4 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 4 updated, 0 errors", stats)
	}

	// Every level adopted the capability's first tag.
	gotEpic, _ := store.GetEpicByKey(ctx, "EP-1")
	gotStory, _ := store.GetUserStoryByKey(ctx, "US-1")
	gotTest, _ := store.GetTest(ctx, test.ID)
	gotDefect, _ := store.GetDefectByKey(ctx, "DF-1")
	for name, component := range map[string]string{
		"epic":   gotEpic.Component,
		"story":  gotStory.Component,
		"test":   gotTest.Component,
		"defect": gotDefect.Component,
	} {
		if component != "payments" {
			t.Errorf("%s component = %q, want payments", name, component)
		}
	}

	events, _ := store.GetEvents(ctx, types.KindTest, test.ID, 1)
	if len(events) != 1 || events[0].EventType != types.EventComponentInherited {
		t.Errorf("inheritance should record component_inherited, got %+v", events)
	}
}

func TestDependencyAnalyzerOverMemory(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	var epicIDs []int64
	for _, key := range []string{"EP-1", "EP-2", "EP-3"} {
		epic := &types.Epic{EpicID: key, Title: key, Status: types.StatusPlanned, Priority: types.PriorityMedium}
		if err := store.CreateEpic(ctx, epic, "tester"); err != nil {
			t.Fatalf("failed to create epic: %v", err)
		}
		epicIDs = append(epicIDs, epic.ID)
	}
	addEdge := func(parent, dependent int64, days float64) *types.EpicDependency {
		dep := &types.EpicDependency{
			ParentEpicID:        parent,
			DependentEpicID:     dependent,
			DependencyType:      types.DepPrerequisite,
			Priority:            types.PriorityMedium,
			EstimatedImpactDays: days,
			IsActive:            true,
		}
		if err := store.AddEpicDependency(ctx, dep, "tester"); err != nil {
			t.Fatalf("failed to add edge: %v", err)
		}
		return dep
	}
	addEdge(epicIDs[0], epicIDs[1], 2.5)
	addEdge(epicIDs[1], epicIDs[2], 1.5)

	analyzer, err := graph.Load(ctx, store)
	if err != nil {
		t.Fatalf("failed to load analyzer: %v", err)
	}
	if nodes, edges := analyzer.Size(); nodes != 3 || edges != 2 {
		t.Fatalf("graph size = (%d, %d), want (3, 2)", nodes, edges)
	}
	result, err := analyzer.CriticalPath()
	if err != nil {
		t.Fatalf("critical path failed: %v", err)
	}
	if result.TotalImpactDays != 4.0 || len(result.Path) != 3 || result.Path[0] != "EP-1" || result.Path[2] != "EP-3" {
		t.Errorf("critical path = %+v, want EP-1 -> EP-2 -> EP-3 over 4 days", result)
	}

	// Close the loop and the analyzer must refuse the path query.
	back := addEdge(epicIDs[2], epicIDs[0], 1.0)
	analyzer, _ = graph.Load(ctx, store)
	cycles := analyzer.DetectCycles()
	if len(cycles) != 1 || len(cycles[0]) != 3 {
		t.Fatalf("cycles = %v, want one 3-node cycle", cycles)
	}
	var cycleErr *graph.CycleError
	if _, err := analyzer.CriticalPath(); !errors.As(err, &cycleErr) {
		t.Fatalf("critical path on a cyclic graph should fail with CycleError, got: %v", err)
	}

	// Resolving the back edge restores the DAG.
	if err := store.ResolveEpicDependency(ctx, back.ID, "tester"); err != nil {
		t.Fatalf("failed to resolve edge: %v", err)
	}
	analyzer, _ = graph.Load(ctx, store)
	if _, err := analyzer.CriticalPath(); err != nil {
		t.Errorf("critical path should succeed after resolving the cycle: %v", err)
	}
}

// Timestamps should be preserved on import-style creates that carry
// their own created_at.
func TestCreatePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := New()
	defer store.Close()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &types.Capability{CapabilityID: "CAP-1", Name: "Payments", CreatedAt: created}
	if err := store.CreateCapability(ctx, c, "importer"); err != nil {
		t.Fatalf("failed to create capability: %v", err)
	}
	got, _ := store.GetCapability(ctx, c.ID)
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want preserved %v", got.CreatedAt, created)
	}
	if got.UpdatedAt.Equal(created) {
		t.Error("updated_at should be stamped at write time")
	}
}
