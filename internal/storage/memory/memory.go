// Package memory implements the storage interface with in-memory maps.
//
// It serves embedders and tests that want the inheritance resolver, the
// dedup engine and the dependency analyzer without a database file on
// disk. Behavior mirrors the sqlite backend: the same validation, the
// same sentinel errors, the same audit events. Nothing survives Close.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// Verify both interfaces at compile time
var (
	_ storage.Storage     = (*MemoryStorage)(nil)
	_ storage.Transaction = (*memoryTx)(nil)
)

// eventKey addresses one entity's audit trail.
type eventKey struct {
	kind types.EntityKind
	id   int64
}

// MemoryStorage implements the Storage interface using in-memory maps.
// All entity maps are keyed by row id; business-key lookups scan, which
// is fine at the scale this backend is meant for.
type MemoryStorage struct {
	mu sync.RWMutex // protects all maps

	capabilities map[int64]*types.Capability
	epics        map[int64]*types.Epic
	stories      map[int64]*types.UserStory
	tests        map[int64]*types.Test
	defects      map[int64]*types.Defect
	dependencies map[int64]*types.EpicDependency
	events       map[eventKey][]*types.Event
	config       map[string]string
	metadata     map[string]string

	seq     map[string]int64 // table name -> last assigned row id
	eventID int64
	closed  bool
}

// New returns an empty in-memory store.
func New() *MemoryStorage {
	return &MemoryStorage{
		capabilities: make(map[int64]*types.Capability),
		epics:        make(map[int64]*types.Epic),
		stories:      make(map[int64]*types.UserStory),
		tests:        make(map[int64]*types.Test),
		defects:      make(map[int64]*types.Defect),
		dependencies: make(map[int64]*types.EpicDependency),
		events:       make(map[eventKey][]*types.Event),
		config:       make(map[string]string),
		metadata:     make(map[string]string),
		seq:          make(map[string]int64),
	}
}

// nextID assigns the next row id for a table. Caller holds the write
// lock.
func (m *MemoryStorage) nextID(table string) int64 {
	m.seq[table]++
	return m.seq[table]
}

// recordEvent appends an audit row. Caller holds the write lock.
func (m *MemoryStorage) recordEvent(kind types.EntityKind, entityID int64, eventType types.EventType, actor string, oldValue, newValue *string) {
	m.eventID++
	key := eventKey{kind, entityID}
	m.events[key] = append(m.events[key], &types.Event{
		ID:         m.eventID,
		EntityKind: kind,
		EntityID:   entityID,
		EventType:  eventType,
		Actor:      actor,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  time.Now(),
	})
}

// CreateCapability creates a new capability
func (m *MemoryStorage) CreateCapability(ctx context.Context, c *types.Capability, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid capability: %w", err)
	}
	for _, existing := range m.capabilities {
		if existing.CapabilityID == c.CapabilityID {
			return fmt.Errorf("%w: capability_id %s already exists", storage.ErrIntegrityViolation, c.CapabilityID)
		}
	}

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.ID = m.nextID("capabilities")

	m.capabilities[c.ID] = cloneCapability(c)
	m.recordEvent(types.KindCapability, c.ID, types.EventCreated, actor, nil, nil)
	return nil
}

// GetCapability retrieves a capability by row id
func (m *MemoryStorage) GetCapability(ctx context.Context, id int64) (*types.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.capabilities[id]
	if !ok {
		return nil, fmt.Errorf("capability %v: %w", id, storage.ErrNotFound)
	}
	return cloneCapability(c), nil
}

// GetCapabilityByKey retrieves a capability by its business key (e.g. "CAP-1")
func (m *MemoryStorage) GetCapabilityByKey(ctx context.Context, capabilityID string) (*types.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.capabilities {
		if c.CapabilityID == capabilityID {
			return cloneCapability(c), nil
		}
	}
	return nil, fmt.Errorf("capability %v: %w", capabilityID, storage.ErrNotFound)
}

// UpdateCapability applies a validated field update
func (m *MemoryStorage) UpdateCapability(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.capabilities[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", types.KindCapability, id, storage.ErrNotFound)
	}

	// Apply to a scratch copy so a bad field leaves the row untouched,
	// matching the single-statement behavior of the sqlite backend.
	updated := *c
	for key, value := range updates {
		if err := applyCapabilityField(&updated, key, value); err != nil {
			return err
		}
	}
	updated.UpdatedAt = time.Now()
	m.capabilities[id] = &updated

	m.recordEvent(types.KindCapability, id, types.EventUpdated, actor, nil, updatesJSON(updates))
	return nil
}

// ListCapabilities returns all capabilities ordered by business key
func (m *MemoryStorage) ListCapabilities(ctx context.Context) ([]*types.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	caps := make([]*types.Capability, 0, len(m.capabilities))
	for _, c := range m.capabilities {
		caps = append(caps, cloneCapability(c))
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].CapabilityID < caps[j].CapabilityID })
	return caps, nil
}

// CreateEpic creates a new epic
func (m *MemoryStorage) CreateEpic(ctx context.Context, epic *types.Epic, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := epic.Validate(); err != nil {
		return fmt.Errorf("invalid epic: %w", err)
	}
	for _, existing := range m.epics {
		if existing.EpicID == epic.EpicID {
			return fmt.Errorf("%w: epic_id %s already exists", storage.ErrIntegrityViolation, epic.EpicID)
		}
	}
	if err := m.checkCapabilityRef(epic.CapabilityID); err != nil {
		return err
	}

	now := time.Now()
	if epic.CreatedAt.IsZero() {
		epic.CreatedAt = now
	}
	epic.UpdatedAt = now
	epic.ID = m.nextID("epics")

	m.epics[epic.ID] = cloneEpic(epic)
	m.recordEvent(types.KindEpic, epic.ID, types.EventCreated, actor, nil, nil)
	return nil
}

// GetEpic retrieves an epic by row id
func (m *MemoryStorage) GetEpic(ctx context.Context, id int64) (*types.Epic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	epic, ok := m.epics[id]
	if !ok {
		return nil, fmt.Errorf("epic %v: %w", id, storage.ErrNotFound)
	}
	return cloneEpic(epic), nil
}

// GetEpicByKey retrieves an epic by its business key (e.g. "EP-1")
func (m *MemoryStorage) GetEpicByKey(ctx context.Context, epicID string) (*types.Epic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, epic := range m.epics {
		if epic.EpicID == epicID {
			return cloneEpic(epic), nil
		}
	}
	return nil, fmt.Errorf("epic %v: %w", epicID, storage.ErrNotFound)
}

// UpdateEpic applies a validated field update
func (m *MemoryStorage) UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEpic(id, updates, actor)
}

func (m *MemoryStorage) updateEpic(id int64, updates map[string]interface{}, actor string) error {
	epic, ok := m.epics[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", types.KindEpic, id, storage.ErrNotFound)
	}

	updated := *epic
	for key, value := range updates {
		if err := applyEpicField(&updated, key, value); err != nil {
			return err
		}
	}
	if err := m.checkCapabilityRef(updated.CapabilityID); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()
	m.epics[id] = &updated

	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	m.recordEvent(types.KindEpic, id, eventType, actor, nil, updatesJSON(updates))
	return nil
}

// ListEpics returns epics matching the filter, ordered by business key
func (m *MemoryStorage) ListEpics(ctx context.Context, filter types.EpicFilter) ([]*types.Epic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var epics []*types.Epic
	for _, epic := range m.epics {
		if filter.Status != nil && epic.Status != *filter.Status {
			continue
		}
		if filter.CapabilityID != nil && (epic.CapabilityID == nil || *epic.CapabilityID != *filter.CapabilityID) {
			continue
		}
		if filter.HasComponent != nil && (epic.Component != "") != *filter.HasComponent {
			continue
		}
		epics = append(epics, cloneEpic(epic))
	}
	sort.Slice(epics, func(i, j int) bool { return epics[i].EpicID < epics[j].EpicID })
	if filter.Limit > 0 && len(epics) > filter.Limit {
		epics = epics[:filter.Limit]
	}
	return epics, nil
}

// CreateUserStory creates a new user story
func (m *MemoryStorage) CreateUserStory(ctx context.Context, story *types.UserStory, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := story.Validate(); err != nil {
		return fmt.Errorf("invalid user story: %w", err)
	}
	for _, existing := range m.stories {
		if existing.UserStoryID == story.UserStoryID {
			return fmt.Errorf("%w: user_story_id %s already exists", storage.ErrIntegrityViolation, story.UserStoryID)
		}
	}
	if err := m.checkIssueNumberUnique(story.IssueNumber, 0); err != nil {
		return err
	}
	if _, ok := m.epics[story.EpicID]; !ok {
		return fmt.Errorf("%w: epic %d does not exist", storage.ErrIntegrityViolation, story.EpicID)
	}

	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = now
	story.ID = m.nextID("user_stories")

	m.stories[story.ID] = cloneStory(story)
	m.recordEvent(types.KindUserStory, story.ID, types.EventCreated, actor, nil, nil)
	return nil
}

// GetUserStory retrieves a user story by row id
func (m *MemoryStorage) GetUserStory(ctx context.Context, id int64) (*types.UserStory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	story, ok := m.stories[id]
	if !ok {
		return nil, fmt.Errorf("user story %v: %w", id, storage.ErrNotFound)
	}
	return cloneStory(story), nil
}

// GetUserStoryByKey retrieves a user story by its business key (e.g. "US-1")
func (m *MemoryStorage) GetUserStoryByKey(ctx context.Context, userStoryID string) (*types.UserStory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, story := range m.stories {
		if story.UserStoryID == userStoryID {
			return cloneStory(story), nil
		}
	}
	return nil, fmt.Errorf("user story %v: %w", userStoryID, storage.ErrNotFound)
}

// GetUserStoryByIssue retrieves a user story by its tracker issue number.
// Tests and defects soft-link to stories through this number.
func (m *MemoryStorage) GetUserStoryByIssue(ctx context.Context, issueNumber int) (*types.UserStory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, story := range m.stories {
		if story.IssueNumber != nil && *story.IssueNumber == issueNumber {
			return cloneStory(story), nil
		}
	}
	return nil, fmt.Errorf("user story %v: %w", issueNumber, storage.ErrNotFound)
}

// UpdateUserStory applies a validated field update
func (m *MemoryStorage) UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUserStory(id, updates, actor)
}

func (m *MemoryStorage) updateUserStory(id int64, updates map[string]interface{}, actor string) error {
	story, ok := m.stories[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", types.KindUserStory, id, storage.ErrNotFound)
	}

	updated := *story
	for key, value := range updates {
		if err := applyStoryField(&updated, key, value); err != nil {
			return err
		}
	}
	if err := m.checkIssueNumberUnique(updated.IssueNumber, id); err != nil {
		return err
	}
	if _, ok := m.epics[updated.EpicID]; !ok {
		return fmt.Errorf("%w: epic %d does not exist", storage.ErrIntegrityViolation, updated.EpicID)
	}
	updated.UpdatedAt = time.Now()
	m.stories[id] = &updated

	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	m.recordEvent(types.KindUserStory, id, eventType, actor, nil, updatesJSON(updates))
	return nil
}

// ListUserStories returns stories, optionally restricted to one epic
func (m *MemoryStorage) ListUserStories(ctx context.Context, epicID *int64) ([]*types.UserStory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stories []*types.UserStory
	for _, story := range m.stories {
		if epicID != nil && story.EpicID != *epicID {
			continue
		}
		stories = append(stories, cloneStory(story))
	}
	sort.Slice(stories, func(i, j int) bool { return stories[i].UserStoryID < stories[j].UserStoryID })
	return stories, nil
}

// CreateTest inserts a new test row. Unlike the keyed entities there is
// no upsert: each import pass appends, and the dedup engine owns
// collapsing the resulting duplicates.
func (m *MemoryStorage) CreateTest(ctx context.Context, test *types.Test, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := test.Validate(); err != nil {
		return fmt.Errorf("invalid test: %w", err)
	}
	if err := m.checkEpicRef(test.EpicID); err != nil {
		return err
	}

	now := time.Now()
	if test.CreatedAt.IsZero() {
		test.CreatedAt = now
	}
	test.UpdatedAt = now
	test.ID = m.nextID("tests")

	m.tests[test.ID] = cloneTest(test)
	m.recordEvent(types.KindTest, test.ID, types.EventCreated, actor, nil, nil)
	return nil
}

// GetTest retrieves a test by row id
func (m *MemoryStorage) GetTest(ctx context.Context, id int64) (*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	test, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %d: %w", id, storage.ErrNotFound)
	}
	return cloneTest(test), nil
}

// UpdateTest applies a validated field update
func (m *MemoryStorage) UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTest(id, updates, actor)
}

func (m *MemoryStorage) updateTest(id int64, updates map[string]interface{}, actor string) error {
	test, ok := m.tests[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", types.KindTest, id, storage.ErrNotFound)
	}

	updated := *test
	for key, value := range updates {
		if err := applyTestField(&updated, key, value); err != nil {
			return err
		}
	}
	if err := m.checkEpicRef(updated.EpicID); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()
	m.tests[id] = &updated

	m.recordEvent(types.KindTest, id, testEventType(updates), actor, nil, updatesJSON(updates))
	return nil
}

// testEventType infers the audit event type from the shape of an
// update: inheritance writes component, epic consolidation writes only
// epic_id, path normalization rewrites file_path.
func testEventType(updates map[string]interface{}) types.EventType {
	if _, ok := updates["component"]; ok {
		return types.EventComponentInherited
	}
	if _, ok := updates["file_path"]; ok {
		return types.EventPathNormalized
	}
	if _, ok := updates["epic_id"]; ok && len(updates) == 1 {
		return types.EventEpicConsolidated
	}
	return types.EventUpdated
}

// DeleteTests removes a set of test rows, recording one audit event per
// row with the given reason (duplicate_removed or orphan_removed).
func (m *MemoryStorage) DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteTests(ids, reason, actor)
	return nil
}

func (m *MemoryStorage) deleteTests(ids []int64, reason types.EventType, actor string) {
	for _, id := range ids {
		delete(m.tests, id)
		m.recordEvent(types.KindTest, id, reason, actor, nil, nil)
	}
}

// ListTests returns tests matching the filter, ordered by id
func (m *MemoryStorage) ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTests(filter), nil
}

func (m *MemoryStorage) listTests(filter types.TestFilter) []*types.Test {
	var tests []*types.Test
	for _, test := range m.tests {
		if filter.EpicID != nil && (test.EpicID == nil || *test.EpicID != *filter.EpicID) {
			continue
		}
		if filter.Component != nil && test.Component != *filter.Component {
			continue
		}
		if filter.HasComponent != nil && (test.Component != "") != *filter.HasComponent {
			continue
		}
		if filter.FunctionName != nil && test.FunctionName != *filter.FunctionName {
			continue
		}
		tests = append(tests, cloneTest(test))
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })
	if filter.Limit > 0 && len(tests) > filter.Limit {
		tests = tests[:filter.Limit]
	}
	return tests
}

// CountTests returns the total number of test rows
func (m *MemoryStorage) CountTests(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tests), nil
}

// CreateDefect creates a new defect
func (m *MemoryStorage) CreateDefect(ctx context.Context, defect *types.Defect, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := defect.Validate(); err != nil {
		return fmt.Errorf("invalid defect: %w", err)
	}
	for _, existing := range m.defects {
		if existing.DefectID == defect.DefectID {
			return fmt.Errorf("%w: defect_id %s already exists", storage.ErrIntegrityViolation, defect.DefectID)
		}
	}
	if err := m.checkEpicRef(defect.EpicID); err != nil {
		return err
	}
	if err := m.checkTestRef(defect.TestID); err != nil {
		return err
	}

	now := time.Now()
	if defect.CreatedAt.IsZero() {
		defect.CreatedAt = now
	}
	defect.UpdatedAt = now
	defect.ID = m.nextID("defects")

	m.defects[defect.ID] = cloneDefect(defect)
	m.recordEvent(types.KindDefect, defect.ID, types.EventCreated, actor, nil, nil)
	return nil
}

// GetDefect retrieves a defect by row id
func (m *MemoryStorage) GetDefect(ctx context.Context, id int64) (*types.Defect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defect, ok := m.defects[id]
	if !ok {
		return nil, fmt.Errorf("defect %v: %w", id, storage.ErrNotFound)
	}
	return cloneDefect(defect), nil
}

// GetDefectByKey retrieves a defect by its business key (e.g. "DF-1")
func (m *MemoryStorage) GetDefectByKey(ctx context.Context, defectID string) (*types.Defect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, defect := range m.defects {
		if defect.DefectID == defectID {
			return cloneDefect(defect), nil
		}
	}
	return nil, fmt.Errorf("defect %v: %w", defectID, storage.ErrNotFound)
}

// UpdateDefect applies a validated field update
func (m *MemoryStorage) UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDefect(id, updates, actor)
}

func (m *MemoryStorage) updateDefect(id int64, updates map[string]interface{}, actor string) error {
	defect, ok := m.defects[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", types.KindDefect, id, storage.ErrNotFound)
	}

	updated := *defect
	for key, value := range updates {
		if err := applyDefectField(&updated, key, value); err != nil {
			return err
		}
	}
	if err := m.checkEpicRef(updated.EpicID); err != nil {
		return err
	}
	if err := m.checkTestRef(updated.TestID); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()
	m.defects[id] = &updated

	eventType := types.EventUpdated
	if _, ok := updates["component"]; ok {
		eventType = types.EventComponentInherited
	}
	m.recordEvent(types.KindDefect, id, eventType, actor, nil, updatesJSON(updates))
	return nil
}

// ListDefects returns defects matching the filter, ordered by business key
func (m *MemoryStorage) ListDefects(ctx context.Context, filter types.DefectFilter) ([]*types.Defect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var defects []*types.Defect
	for _, defect := range m.defects {
		if filter.Status != nil && defect.Status != *filter.Status {
			continue
		}
		if filter.Severity != nil && defect.Severity != *filter.Severity {
			continue
		}
		if filter.HasComponent != nil && (defect.Component != "") != *filter.HasComponent {
			continue
		}
		defects = append(defects, cloneDefect(defect))
	}
	sort.Slice(defects, func(i, j int) bool { return defects[i].DefectID < defects[j].DefectID })
	if filter.Limit > 0 && len(defects) > filter.Limit {
		defects = defects[:filter.Limit]
	}
	return defects, nil
}

// AddEpicDependency creates a directed planning edge parent -> dependent.
// Self-loops and duplicate (parent, dependent, type) edges surface as
// ErrIntegrityViolation so bulk importers can count and continue. Cycles
// are deliberately NOT rejected here: planning data arrives cyclic, and
// the dependency analyzer reports cycles on read.
func (m *MemoryStorage) AddEpicDependency(ctx context.Context, dep *types.EpicDependency, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := dep.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrIntegrityViolation, err)
	}
	if _, ok := m.epics[dep.ParentEpicID]; !ok {
		return fmt.Errorf("%w: epic %d does not exist", storage.ErrIntegrityViolation, dep.ParentEpicID)
	}
	if _, ok := m.epics[dep.DependentEpicID]; !ok {
		return fmt.Errorf("%w: epic %d does not exist", storage.ErrIntegrityViolation, dep.DependentEpicID)
	}
	for _, existing := range m.dependencies {
		if existing.ParentEpicID == dep.ParentEpicID &&
			existing.DependentEpicID == dep.DependentEpicID &&
			existing.DependencyType == dep.DependencyType {
			return fmt.Errorf("%w: dependency %d->%d (%s) already exists",
				storage.ErrIntegrityViolation, dep.ParentEpicID, dep.DependentEpicID, dep.DependencyType)
		}
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now()
	}
	dep.ID = m.nextID("epic_dependencies")

	m.dependencies[dep.ID] = cloneDependency(dep)
	edge := fmt.Sprintf("%d->%d (%s)", dep.ParentEpicID, dep.DependentEpicID, dep.DependencyType)
	m.recordEvent(types.KindDependency, dep.ID, types.EventDependencyAdded, actor, nil, &edge)
	return nil
}

// ResolveEpicDependency marks an edge resolved, removing it from the
// analyzer's active graph.
func (m *MemoryStorage) ResolveEpicDependency(ctx context.Context, id int64, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep, ok := m.dependencies[id]
	if !ok || dep.IsResolved {
		return fmt.Errorf("unresolved dependency %d: %w", id, storage.ErrNotFound)
	}

	now := time.Now()
	updated := *dep
	updated.IsResolved = true
	updated.ResolutionDate = &now
	m.dependencies[id] = &updated

	m.recordEvent(types.KindDependency, id, types.EventDependencyResolved, actor, nil, nil)
	return nil
}

// ListEpicDependencies returns dependency edges. With activeOnly set,
// only active unresolved edges are returned; these form the analyzer's
// graph.
func (m *MemoryStorage) ListEpicDependencies(ctx context.Context, activeOnly bool) ([]*types.EpicDependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var deps []*types.EpicDependency
	for _, dep := range m.dependencies {
		if activeOnly && (!dep.IsActive || dep.IsResolved) {
			continue
		}
		deps = append(deps, cloneDependency(dep))
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	return deps, nil
}

// GetEpicDependenciesFor returns all edges touching an epic, in either
// direction.
func (m *MemoryStorage) GetEpicDependenciesFor(ctx context.Context, epicID int64) ([]*types.EpicDependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var deps []*types.EpicDependency
	for _, dep := range m.dependencies {
		if dep.ParentEpicID != epicID && dep.DependentEpicID != epicID {
			continue
		}
		deps = append(deps, cloneDependency(dep))
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	return deps, nil
}

// GetEvents returns the audit trail for an entity, newest first
func (m *MemoryStorage) GetEvents(ctx context.Context, kind types.EntityKind, entityID int64, limit int) ([]*types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.events[eventKey{kind, entityID}]
	var events []*types.Event
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(events) == limit {
			break
		}
		events = append(events, cloneEvent(stored[i]))
	}
	return events, nil
}

// GetStatistics returns aggregate counts over the traceability graph
func (m *MemoryStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.Statistics{
		Capabilities: len(m.capabilities),
		Epics:        len(m.epics),
		UserStories:  len(m.stories),
		Tests:        len(m.tests),
		Defects:      len(m.defects),
	}

	for _, dep := range m.dependencies {
		if dep.IsActive && !dep.IsResolved {
			stats.Dependencies++
		}
	}

	// Duplicate keys group raw (function_name, file_path) pairs, before
	// any path normalization.
	type identity struct{ fn, path string }
	keyCounts := make(map[identity]int)
	for _, test := range m.tests {
		keyCounts[identity{test.FunctionName, test.FilePath}]++
		if test.EpicID == nil {
			stats.TestsWithoutEpic++
		}
		if test.Component == "" {
			stats.MissingComponents++
		}
	}
	for _, n := range keyCounts {
		if n > 1 {
			stats.DuplicateTestKeys++
		}
	}
	for _, defect := range m.defects {
		if defect.Component == "" {
			stats.MissingComponents++
		}
	}
	for _, story := range m.stories {
		if story.Component == "" {
			stats.MissingComponents++
		}
	}

	return stats, nil
}

// SetConfig sets a configuration value
func (m *MemoryStorage) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config[key] = value
	return nil
}

// GetConfig gets a configuration value
func (m *MemoryStorage) GetConfig(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.config[key], nil
}

// GetAllConfig gets all configuration key-value pairs
func (m *MemoryStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config := make(map[string]string, len(m.config))
	for k, v := range m.config {
		config[k] = v
	}
	return config, nil
}

// DeleteConfig deletes a configuration value
func (m *MemoryStorage) DeleteConfig(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.config, key)
	return nil
}

// SetMetadata sets a metadata value (for internal state like schema version)
func (m *MemoryStorage) SetMetadata(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metadata[key] = value
	return nil
}

// GetMetadata gets a metadata value (for internal state like schema version)
func (m *MemoryStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.metadata[key], nil
}

// memoryTx implements storage.Transaction against the store's maps. The
// store's write lock is held for the lifetime of the transaction, so
// methods call the lock-free internals directly.
type memoryTx struct {
	store *MemoryStorage
}

// txSnapshot captures the state reachable through the Transaction
// interface so a failed transaction can be rolled back.
type txSnapshot struct {
	epics   map[int64]*types.Epic
	stories map[int64]*types.UserStory
	tests   map[int64]*types.Test
	defects map[int64]*types.Defect
	events  map[eventKey][]*types.Event
	eventID int64
}

func (m *MemoryStorage) snapshot() *txSnapshot {
	snap := &txSnapshot{
		epics:   make(map[int64]*types.Epic, len(m.epics)),
		stories: make(map[int64]*types.UserStory, len(m.stories)),
		tests:   make(map[int64]*types.Test, len(m.tests)),
		defects: make(map[int64]*types.Defect, len(m.defects)),
		events:  make(map[eventKey][]*types.Event, len(m.events)),
		eventID: m.eventID,
	}
	for id, epic := range m.epics {
		snap.epics[id] = cloneEpic(epic)
	}
	for id, story := range m.stories {
		snap.stories[id] = cloneStory(story)
	}
	for id, test := range m.tests {
		snap.tests[id] = cloneTest(test)
	}
	for id, defect := range m.defects {
		snap.defects[id] = cloneDefect(defect)
	}
	// Event structs are never mutated after append, so copying the
	// slices is enough.
	for key, events := range m.events {
		snap.events[key] = append([]*types.Event(nil), events...)
	}
	return snap
}

func (m *MemoryStorage) restore(snap *txSnapshot) {
	m.epics = snap.epics
	m.stories = snap.stories
	m.tests = snap.tests
	m.defects = snap.defects
	m.events = snap.events
	m.eventID = snap.eventID
}

// RunInTransaction executes fn while holding the write lock, the
// in-memory analogue of BEGIN IMMEDIATE. State reachable through the
// Transaction interface is snapshotted first; an error or panic from fn
// restores the snapshot, and the panic is re-raised.
func (m *MemoryStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	committed := false
	defer func() {
		if !committed {
			m.restore(snap)
		}
	}()

	if err := fn(&memoryTx{store: m}); err != nil {
		return err // rollback happens in the defer
	}
	committed = true
	return nil
}

// UpdateEpic applies a validated field update within the transaction
func (t *memoryTx) UpdateEpic(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return t.store.updateEpic(id, updates, actor)
}

// UpdateUserStory applies a validated field update within the transaction
func (t *memoryTx) UpdateUserStory(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return t.store.updateUserStory(id, updates, actor)
}

// UpdateTest applies a validated field update within the transaction
func (t *memoryTx) UpdateTest(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return t.store.updateTest(id, updates, actor)
}

// UpdateDefect applies a validated field update within the transaction
func (t *memoryTx) UpdateDefect(ctx context.Context, id int64, updates map[string]interface{}, actor string) error {
	return t.store.updateDefect(id, updates, actor)
}

// DeleteTests removes test rows within the transaction
func (t *memoryTx) DeleteTests(ctx context.Context, ids []int64, reason types.EventType, actor string) error {
	t.store.deleteTests(ids, reason, actor)
	return nil
}

// ListTests reads tests with read-your-writes visibility
func (t *memoryTx) ListTests(ctx context.Context, filter types.TestFilter) ([]*types.Test, error) {
	return t.store.listTests(filter), nil
}

// Close marks the store closed. The maps stay valid; nothing is
// persisted.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Path returns the pseudo-path ":memory:"
func (m *MemoryStorage) Path() string {
	return ":memory:"
}

// UnderlyingDB returns nil for memory storage (no SQL database)
func (m *MemoryStorage) UnderlyingDB() *sql.DB {
	return nil
}

// checkCapabilityRef enforces the capability foreign key.
func (m *MemoryStorage) checkCapabilityRef(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := m.capabilities[*id]; !ok {
		return fmt.Errorf("%w: capability %d does not exist", storage.ErrIntegrityViolation, *id)
	}
	return nil
}

// checkEpicRef enforces the epic foreign key on nullable references.
func (m *MemoryStorage) checkEpicRef(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := m.epics[*id]; !ok {
		return fmt.Errorf("%w: epic %d does not exist", storage.ErrIntegrityViolation, *id)
	}
	return nil
}

// checkTestRef enforces the test foreign key on nullable references.
func (m *MemoryStorage) checkTestRef(id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := m.tests[*id]; !ok {
		return fmt.Errorf("%w: test %d does not exist", storage.ErrIntegrityViolation, *id)
	}
	return nil
}

// checkIssueNumberUnique enforces issue number uniqueness across
// stories, excluding the row being updated.
func (m *MemoryStorage) checkIssueNumberUnique(issueNumber *int, selfID int64) error {
	if issueNumber == nil {
		return nil
	}
	for id, story := range m.stories {
		if id == selfID {
			continue
		}
		if story.IssueNumber != nil && *story.IssueNumber == *issueNumber {
			return fmt.Errorf("%w: issue_number %d already exists", storage.ErrIntegrityViolation, *issueNumber)
		}
	}
	return nil
}
