package sqlite

import (
	"fmt"

	"github.com/stitchtrace/stitch/internal/types"
)

// Field validation for map-based updates. Values arrive as interface{} from
// CLI and import paths, so each validator tolerates the types the database
// layer accepts for the column.

func validateStatus(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		if st, ok := value.(types.Status); ok {
			s = string(st)
		} else {
			return fmt.Errorf("status must be a string")
		}
	}
	if !types.Status(s).IsValid() {
		return fmt.Errorf("invalid status: %s", s)
	}
	return nil
}

func validateDefectStatus(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		if st, ok := value.(types.DefectStatus); ok {
			s = string(st)
		} else {
			return fmt.Errorf("status must be a string")
		}
	}
	if !types.DefectStatus(s).IsValid() {
		return fmt.Errorf("invalid defect status: %s", s)
	}
	return nil
}

func validatePriority(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		if p, ok := value.(types.Priority); ok {
			s = string(p)
		} else {
			return fmt.Errorf("priority must be a string")
		}
	}
	if !types.Priority(s).IsValid() {
		return fmt.Errorf("invalid priority: %s", s)
	}
	return nil
}

func validateSeverity(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		if sv, ok := value.(types.Severity); ok {
			s = string(sv)
		} else {
			return fmt.Errorf("severity must be a string")
		}
	}
	if !types.Severity(s).IsValid() {
		return fmt.Errorf("invalid severity: %s", s)
	}
	return nil
}

func validateTitle(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("title must be a string")
	}
	if s == "" {
		return fmt.Errorf("title is required")
	}
	if len(s) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(s))
	}
	return nil
}

func validateImpactDays(value interface{}) error {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return fmt.Errorf("estimated_impact_days cannot be negative")
		}
	case int:
		if v < 0 {
			return fmt.Errorf("estimated_impact_days cannot be negative")
		}
	case int64:
		if v < 0 {
			return fmt.Errorf("estimated_impact_days cannot be negative")
		}
	default:
		return fmt.Errorf("estimated_impact_days must be numeric")
	}
	return nil
}

// fieldValidators maps update keys with value constraints to their check.
// Keys without an entry (component, test_category, ...) accept any value of
// the column's type.
var fieldValidators = map[string]func(interface{}) error{
	"title":                 validateTitle,
	"priority":              validatePriority,
	"severity":              validateSeverity,
	"estimated_impact_days": validateImpactDays,
}

// validateFieldUpdate validates a single update pair against the column's
// constraints. statusValidator differs between epics/stories and defects.
func validateFieldUpdate(key string, value interface{}, statusValidator func(interface{}) error) error {
	if key == "status" {
		return statusValidator(value)
	}
	if v, ok := fieldValidators[key]; ok {
		return v(value)
	}
	return nil
}
