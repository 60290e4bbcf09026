package config

// CriterionType enumerates the built-in criterion.Criterion constructors
// a trigger's YAML criterion spec may select.
type CriterionType string

const (
	CriterionTypeInactive       CriterionType = "inactive"
	CriterionTypeEventType      CriterionType = "event_type"
	CriterionTypeAnd            CriterionType = "and"
	CriterionTypeEndOfDayExists CriterionType = "end_of_day_exists"
)

// IsValid reports whether the criterion type name is recognized.
func (t CriterionType) IsValid() bool {
	switch t {
	case CriterionTypeInactive, CriterionTypeEventType, CriterionTypeAnd, CriterionTypeEndOfDayExists:
		return true
	default:
		return false
	}
}
