package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stitchtrace/stitch/internal/types"
)

// Map-based updates arrive with interface{} values from the CLI and
// import paths. Each apply function plays the role of the sqlite
// backend's column allow-list plus validators: unknown keys are
// rejected, constrained values are checked, and accepted value types
// match what the database driver would take for the column.

func applyCapabilityField(c *types.Capability, key string, value interface{}) error {
	switch key {
	case "name":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("name must be a string")
		}
		c.Name = v
	case "component":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("component must be a string")
		}
		c.Component = v
	case "strategic_theme":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("strategic_theme must be a string")
		}
		c.StrategicTheme = v
	case "business_value":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("business_value must be a string")
		}
		c.BusinessValue = v
	default:
		return fmt.Errorf("invalid field for update: %s", key)
	}
	return nil
}

func applyEpicField(e *types.Epic, key string, value interface{}) error {
	switch key {
	case "title":
		v, err := titleValue(value)
		if err != nil {
			return err
		}
		e.Title = v
	case "component":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("component must be a string")
		}
		e.Component = v
	case "capability_id":
		p, err := int64PtrValue(key, value)
		if err != nil {
			return err
		}
		e.CapabilityID = p
	case "status":
		v, err := statusValue(value)
		if err != nil {
			return err
		}
		e.Status = v
	case "priority":
		v, err := priorityValue(value)
		if err != nil {
			return err
		}
		e.Priority = v
	case "estimated_impact_days":
		v, err := impactDaysValue(value)
		if err != nil {
			return err
		}
		e.EstimatedImpactDays = v
	default:
		return fmt.Errorf("invalid field for update: %s", key)
	}
	return nil
}

func applyStoryField(s *types.UserStory, key string, value interface{}) error {
	switch key {
	case "title":
		v, err := titleValue(value)
		if err != nil {
			return err
		}
		s.Title = v
	case "component":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("component must be a string")
		}
		s.Component = v
	case "epic_id":
		v, err := int64Value(key, value)
		if err != nil {
			return err
		}
		s.EpicID = v
	case "issue_number":
		p, err := intPtrValue(key, value)
		if err != nil {
			return err
		}
		s.IssueNumber = p
	case "status":
		v, err := statusValue(value)
		if err != nil {
			return err
		}
		s.Status = v
	default:
		return fmt.Errorf("invalid field for update: %s", key)
	}
	return nil
}

func applyTestField(t *types.Test, key string, value interface{}) error {
	switch key {
	case "function_name":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("function_name must be a string")
		}
		t.FunctionName = v
	case "file_path":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("file_path must be a string")
		}
		t.FilePath = v
	case "component":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("component must be a string")
		}
		t.Component = v
	case "epic_id":
		p, err := int64PtrValue(key, value)
		if err != nil {
			return err
		}
		t.EpicID = p
	case "user_story_issue":
		p, err := intPtrValue(key, value)
		if err != nil {
			return err
		}
		t.UserStoryIssue = p
	case "defect_issue":
		p, err := intPtrValue(key, value)
		if err != nil {
			return err
		}
		t.DefectIssue = p
	case "test_category":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("test_category must be a string")
		}
		t.TestCategory = v
	case "priority":
		v, err := priorityValue(value)
		if err != nil {
			return err
		}
		t.Priority = v
	case "priority_explicit":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("priority_explicit must be a bool")
		}
		t.PriorityExplicit = v
	case "last_execution_time":
		p, err := timePtrValue(key, value)
		if err != nil {
			return err
		}
		t.LastExecutionTime = p
	case "last_execution_status":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("last_execution_status must be a string")
		}
		t.LastExecutionStatus = v
	default:
		return fmt.Errorf("invalid field for update: %s", key)
	}
	return nil
}

func applyDefectField(d *types.Defect, key string, value interface{}) error {
	switch key {
	case "title":
		v, err := titleValue(value)
		if err != nil {
			return err
		}
		d.Title = v
	case "component":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("component must be a string")
		}
		d.Component = v
	case "epic_id":
		p, err := int64PtrValue(key, value)
		if err != nil {
			return err
		}
		d.EpicID = p
	case "user_story_issue":
		p, err := intPtrValue(key, value)
		if err != nil {
			return err
		}
		d.UserStoryIssue = p
	case "test_id":
		p, err := int64PtrValue(key, value)
		if err != nil {
			return err
		}
		d.TestID = p
	case "severity":
		v, err := severityValue(value)
		if err != nil {
			return err
		}
		d.Severity = v
	case "status":
		v, err := defectStatusValue(value)
		if err != nil {
			return err
		}
		d.Status = v
	default:
		return fmt.Errorf("invalid field for update: %s", key)
	}
	return nil
}

func statusValue(value interface{}) (types.Status, error) {
	var s types.Status
	switch v := value.(type) {
	case string:
		s = types.Status(v)
	case types.Status:
		s = v
	default:
		return "", fmt.Errorf("status must be a string")
	}
	if !s.IsValid() {
		return "", fmt.Errorf("invalid status: %s", s)
	}
	return s, nil
}

func defectStatusValue(value interface{}) (types.DefectStatus, error) {
	var s types.DefectStatus
	switch v := value.(type) {
	case string:
		s = types.DefectStatus(v)
	case types.DefectStatus:
		s = v
	default:
		return "", fmt.Errorf("status must be a string")
	}
	if !s.IsValid() {
		return "", fmt.Errorf("invalid defect status: %s", s)
	}
	return s, nil
}

func priorityValue(value interface{}) (types.Priority, error) {
	var p types.Priority
	switch v := value.(type) {
	case string:
		p = types.Priority(v)
	case types.Priority:
		p = v
	default:
		return "", fmt.Errorf("priority must be a string")
	}
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority: %s", p)
	}
	return p, nil
}

func severityValue(value interface{}) (types.Severity, error) {
	var s types.Severity
	switch v := value.(type) {
	case string:
		s = types.Severity(v)
	case types.Severity:
		s = v
	default:
		return "", fmt.Errorf("severity must be a string")
	}
	if !s.IsValid() {
		return "", fmt.Errorf("invalid severity: %s", s)
	}
	return s, nil
}

func titleValue(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("title must be a string")
	}
	if s == "" {
		return "", fmt.Errorf("title is required")
	}
	if len(s) > 500 {
		return "", fmt.Errorf("title must be 500 characters or less (got %d)", len(s))
	}
	return s, nil
}

func impactDaysValue(value interface{}) (float64, error) {
	var days float64
	switch v := value.(type) {
	case float64:
		days = v
	case int:
		days = float64(v)
	case int64:
		days = float64(v)
	default:
		return 0, fmt.Errorf("estimated_impact_days must be numeric")
	}
	if days < 0 {
		return 0, fmt.Errorf("estimated_impact_days cannot be negative")
	}
	return days, nil
}

func int64Value(key string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case *int64:
		if v != nil {
			return *v, nil
		}
	}
	return 0, fmt.Errorf("%s must be an integer", key)
}

func int64PtrValue(key string, value interface{}) (*int64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *int64:
		if v == nil {
			return nil, nil
		}
		n := *v
		return &n, nil
	case int64:
		n := v
		return &n, nil
	case int:
		n := int64(v)
		return &n, nil
	}
	return nil, fmt.Errorf("%s must be an integer or nil", key)
}

func intPtrValue(key string, value interface{}) (*int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *int:
		if v == nil {
			return nil, nil
		}
		n := *v
		return &n, nil
	case int:
		n := v
		return &n, nil
	case int64:
		n := int(v)
		return &n, nil
	}
	return nil, fmt.Errorf("%s must be an integer or nil", key)
}

func timePtrValue(key string, value interface{}) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t := *v
		return &t, nil
	case time.Time:
		t := v
		return &t, nil
	}
	return nil, fmt.Errorf("%s must be a time or nil", key)
}

// updatesJSON renders an update map for the audit trail, falling back
// to an empty object if marshaling fails.
func updatesJSON(updates map[string]interface{}) *string {
	data, err := json.Marshal(updates)
	if err != nil {
		data = []byte(`{}`)
	}
	s := string(data)
	return &s
}

// Clone helpers. Reads hand out copies so callers can never mutate the
// store's rows; pointer fields get fresh pointers for the same reason.

func cloneCapability(c *types.Capability) *types.Capability {
	out := *c
	return &out
}

func cloneEpic(e *types.Epic) *types.Epic {
	out := *e
	out.CapabilityID = cloneInt64Ptr(e.CapabilityID)
	return &out
}

func cloneStory(s *types.UserStory) *types.UserStory {
	out := *s
	out.IssueNumber = cloneIntPtr(s.IssueNumber)
	return &out
}

func cloneTest(t *types.Test) *types.Test {
	out := *t
	out.EpicID = cloneInt64Ptr(t.EpicID)
	out.UserStoryIssue = cloneIntPtr(t.UserStoryIssue)
	out.DefectIssue = cloneIntPtr(t.DefectIssue)
	out.LastExecutionTime = cloneTimePtr(t.LastExecutionTime)
	return &out
}

func cloneDefect(d *types.Defect) *types.Defect {
	out := *d
	out.EpicID = cloneInt64Ptr(d.EpicID)
	out.UserStoryIssue = cloneIntPtr(d.UserStoryIssue)
	out.TestID = cloneInt64Ptr(d.TestID)
	return &out
}

func cloneDependency(d *types.EpicDependency) *types.EpicDependency {
	out := *d
	out.ResolutionDate = cloneTimePtr(d.ResolutionDate)
	return &out
}

func cloneEvent(e *types.Event) *types.Event {
	out := *e
	out.OldValue = cloneStringPtr(e.OldValue)
	out.NewValue = cloneStringPtr(e.NewValue)
	return &out
}

func cloneInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := *p
	return &t
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
