package types

import (
	"fmt"
	"time"
)

// Capability is the root of the traceability hierarchy, a strategic
// grouping of epics.
type Capability struct {
	ID             int64     `json:"id"`
	CapabilityID   string    `json:"capability_id"`
	Name           string    `json:"name"`
	Component      string    `json:"component,omitempty"`
	StrategicTheme string    `json:"strategic_theme,omitempty"`
	BusinessValue  string    `json:"business_value,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks if the capability has valid field values
func (c *Capability) Validate() error {
	if c.CapabilityID == "" {
		return fmt.Errorf("capability_id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Epic represents a deliverable grouping of user stories. Component holds
// a comma-joined tag list; position 0 is the inheritable tag.
type Epic struct {
	ID                  int64     `json:"id"`
	EpicID              string    `json:"epic_id"`
	Title               string    `json:"title"`
	Component           string    `json:"component,omitempty"`
	CapabilityID        *int64    `json:"capability_id,omitempty"`
	Status              Status    `json:"status"`
	Priority            Priority  `json:"priority"`
	EstimatedImpactDays float64   `json:"estimated_impact_days,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate checks if the epic has valid field values
func (e *Epic) Validate() error {
	if e.EpicID == "" {
		return fmt.Errorf("epic_id is required")
	}
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(e.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(e.Title))
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", e.Priority)
	}
	if e.EstimatedImpactDays < 0 {
		return fmt.Errorf("estimated_impact_days cannot be negative")
	}
	return nil
}

// UserStory represents a unit of work under an epic. IssueNumber is the
// tracker-side identity that tests and defects soft-link against.
type UserStory struct {
	ID          int64     `json:"id"`
	UserStoryID string    `json:"user_story_id"`
	Title       string    `json:"title"`
	EpicID      int64     `json:"epic_id"`
	Component   string    `json:"component,omitempty"`
	IssueNumber *int      `json:"issue_number,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks if the user story has valid field values
func (u *UserStory) Validate() error {
	if u.UserStoryID == "" {
		return fmt.Errorf("user_story_id is required")
	}
	if u.Title == "" {
		return fmt.Errorf("title is required")
	}
	if u.EpicID <= 0 {
		return fmt.Errorf("epic_id is required")
	}
	if !u.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", u.Status)
	}
	if u.IssueNumber != nil && *u.IssueNumber <= 0 {
		return fmt.Errorf("issue_number must be positive")
	}
	return nil
}

// Test represents a discovered test function record. Identity after
// deduplication is (normalized file path, function name); the table itself
// carries no uniqueness constraint because repeated imports are expected to
// accumulate duplicate rows.
type Test struct {
	ID                  int64      `json:"id"`
	FunctionName        string     `json:"function_name"`
	FilePath            string     `json:"file_path"`
	Component           string     `json:"component,omitempty"`
	EpicID              *int64     `json:"epic_id,omitempty"`
	UserStoryIssue      *int       `json:"user_story_issue,omitempty"`
	DefectIssue         *int       `json:"defect_issue,omitempty"`
	TestCategory        string     `json:"test_category,omitempty"`
	Priority            Priority   `json:"priority"`
	PriorityExplicit    bool       `json:"priority_explicit,omitempty"`
	LastExecutionTime   *time.Time `json:"last_execution_time,omitempty"`
	LastExecutionStatus string     `json:"last_execution_status,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Validate checks if the test has valid field values
func (t *Test) Validate() error {
	if t.FunctionName == "" {
		return fmt.Errorf("function_name is required")
	}
	if t.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	return nil
}

// Defect represents a tracked failure linked into the hierarchy.
type Defect struct {
	ID             int64        `json:"id"`
	DefectID       string       `json:"defect_id"`
	Title          string       `json:"title"`
	Component      string       `json:"component,omitempty"`
	EpicID         *int64       `json:"epic_id,omitempty"`
	UserStoryIssue *int         `json:"user_story_issue,omitempty"`
	TestID         *int64       `json:"test_id,omitempty"`
	Severity       Severity     `json:"severity"`
	Status         DefectStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Validate checks if the defect has valid field values
func (d *Defect) Validate() error {
	if d.DefectID == "" {
		return fmt.Errorf("defect_id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !d.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", d.Severity)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", d.Status)
	}
	return nil
}

// EpicDependency is a directed planning edge parent→dependent. The edge
// weight for critical-path analysis is EstimatedImpactDays.
type EpicDependency struct {
	ID                  int64          `json:"id"`
	ParentEpicID        int64          `json:"parent_epic_id"`
	DependentEpicID     int64          `json:"dependent_epic_id"`
	DependencyType      DependencyType `json:"dependency_type"`
	Priority            Priority       `json:"priority"`
	EstimatedImpactDays float64        `json:"estimated_impact_days,omitempty"`
	IsActive            bool           `json:"is_active"`
	IsResolved          bool           `json:"is_resolved"`
	ResolutionDate      *time.Time     `json:"resolution_date,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Validate checks if the dependency has valid field values
func (d *EpicDependency) Validate() error {
	if d.ParentEpicID <= 0 {
		return fmt.Errorf("parent_epic_id is required")
	}
	if d.DependentEpicID <= 0 {
		return fmt.Errorf("dependent_epic_id is required")
	}
	if d.ParentEpicID == d.DependentEpicID {
		return fmt.Errorf("dependency cannot be self-referential (epic %d)", d.ParentEpicID)
	}
	if !d.DependencyType.IsValid() {
		return fmt.Errorf("invalid dependency type: %s", d.DependencyType)
	}
	if !d.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", d.Priority)
	}
	if d.EstimatedImpactDays < 0 {
		return fmt.Errorf("estimated_impact_days cannot be negative")
	}
	return nil
}

// Status represents the planning state of an epic or user story
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DefectStatus represents the lifecycle state of a defect
type DefectStatus string

const (
	DefectOpen       DefectStatus = "open"
	DefectInProgress DefectStatus = "in_progress"
	DefectResolved   DefectStatus = "resolved"
	DefectClosed     DefectStatus = "closed"
)

// IsValid checks if the defect status value is valid
func (s DefectStatus) IsValid() bool {
	switch s {
	case DefectOpen, DefectInProgress, DefectResolved, DefectClosed:
		return true
	}
	return false
}

// Priority is a coarse urgency label. "medium" is the schema default;
// PriorityExplicit on Test records whether a row's value was deliberately
// chosen rather than defaulted.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Severity categorizes defect impact
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// DependencyType categorizes the planning relationship between epics
type DependencyType string

const (
	DepPrerequisite DependencyType = "prerequisite"
	DepBlocking     DependencyType = "blocking"
	DepTechnical    DependencyType = "technical"
)

// IsValid checks if the dependency type value is valid
func (d DependencyType) IsValid() bool {
	switch d {
	case DepPrerequisite, DepBlocking, DepTechnical:
		return true
	}
	return false
}

// EntityKind names an entity table for events and interchange records
type EntityKind string

const (
	KindCapability EntityKind = "capability"
	KindEpic       EntityKind = "epic"
	KindUserStory  EntityKind = "user_story"
	KindTest       EntityKind = "test"
	KindDefect     EntityKind = "defect"
	KindDependency EntityKind = "epic_dependency"
)

// IsValid checks if the entity kind value is valid
func (k EntityKind) IsValid() bool {
	switch k {
	case KindCapability, KindEpic, KindUserStory, KindTest, KindDefect, KindDependency:
		return true
	}
	return false
}

// Event represents an audit trail entry
type Event struct {
	ID         int64      `json:"id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   int64      `json:"entity_id"`
	EventType  EventType  `json:"event_type"`
	Actor      string     `json:"actor"`
	OldValue   *string    `json:"old_value,omitempty"`
	NewValue   *string    `json:"new_value,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

const (
	EventCreated            EventType = "created"
	EventUpdated            EventType = "updated"
	EventComponentInherited EventType = "component_inherited"
	EventDuplicateRemoved   EventType = "duplicate_removed"
	EventOrphanRemoved      EventType = "orphan_removed"
	EventEpicConsolidated   EventType = "epic_consolidated"
	EventPathNormalized     EventType = "path_normalized"
	EventDependencyAdded    EventType = "dependency_added"
	EventDependencyResolved EventType = "dependency_resolved"
)

// Statistics provides aggregate metrics over the traceability graph
type Statistics struct {
	Capabilities      int `json:"capabilities"`
	Epics             int `json:"epics"`
	UserStories       int `json:"user_stories"`
	Tests             int `json:"tests"`
	Defects           int `json:"defects"`
	Dependencies      int `json:"dependencies"`
	DuplicateTestKeys int `json:"duplicate_test_keys"`
	TestsWithoutEpic  int `json:"tests_without_epic"`
	MissingComponents int `json:"missing_components"`
}

// TestFilter is used to filter test queries
type TestFilter struct {
	EpicID       *int64
	Component    *string
	HasComponent *bool
	FunctionName *string
	Limit        int
}

// EpicFilter is used to filter epic queries
type EpicFilter struct {
	Status       *Status
	CapabilityID *int64
	HasComponent *bool
	Limit        int
}

// DefectFilter is used to filter defect queries
type DefectFilter struct {
	Status       *DefectStatus
	Severity     *Severity
	HasComponent *bool
	Limit        int
}
