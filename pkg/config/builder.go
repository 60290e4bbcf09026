package config

import (
	"fmt"
	"time"

	"github.com/stacktach/oahu/pkg/criterion"
	"github.com/stacktach/oahu/pkg/trigger"
)

// CallbackFactory constructs a pipeline callback by name. The embedding
// application registers these — callback side effects (what actually
// happens on_trigger/commit) are application-specific, not something
// YAML alone can describe, mirroring the original system's simport-based
// dynamic loading of trigger_callback objects.
type CallbackFactory func(triggerName string) (trigger.Callback, error)

// buildCriterion constructs a criterion.Criterion from its YAML spec,
// recursing into And's nested "of" list.
func buildCriterion(spec CriterionSpec) (criterion.Criterion, error) {
	switch CriterionType(spec.Type) {
	case CriterionTypeInactive:
		return criterion.Inactive{Expiry: time.Duration(spec.ExpirySeconds) * time.Second}, nil
	case CriterionTypeEventType:
		return criterion.EventType{Type: spec.EventType}, nil
	case CriterionTypeAnd:
		subs := make([]criterion.Criterion, 0, len(spec.Of))
		for _, s := range spec.Of {
			sub, err := buildCriterion(s)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return criterion.And{Of: subs}, nil
	case CriterionTypeEndOfDayExists:
		return criterion.EndOfDayExists{ExistsName: spec.ExistsName}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriterionType, spec.Type)
	}
}

// BuildTriggerDefinitions constructs trigger.Definition values from their
// YAML specs, resolving each pipeline_callbacks entry through factories.
func BuildTriggerDefinitions(specs []TriggerSpec, factories map[string]CallbackFactory) ([]*trigger.Definition, error) {
	defs := make([]*trigger.Definition, 0, len(specs))
	for _, spec := range specs {
		crit, err := buildCriterion(spec.Criterion)
		if err != nil {
			return nil, NewValidationError("trigger", spec.Name, "criterion", err)
		}

		callbacks := make([]trigger.Callback, 0, len(spec.PipelineCallbacks))
		for _, name := range spec.PipelineCallbacks {
			factory, ok := factories[name]
			if !ok {
				return nil, NewValidationError("trigger", spec.Name, "pipeline_callbacks",
					fmt.Errorf("%w: %q", ErrUnknownCallback, name))
			}
			cb, err := factory(spec.Name)
			if err != nil {
				return nil, NewValidationError("trigger", spec.Name, "pipeline_callbacks", err)
			}
			callbacks = append(callbacks, cb)
		}

		defs = append(defs, &trigger.Definition{
			Name:              spec.Name,
			IdentifyingTraits: spec.IdentifyingTraits,
			Criterion:         crit,
			PipelineCallbacks: callbacks,
		})
	}
	return defs, nil
}
