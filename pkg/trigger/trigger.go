// Package trigger defines TriggerDefinition: the binding between a set of
// identifying trait paths, a firing Criterion, and an ordered pipeline of
// two-phase callbacks.
package trigger

import (
	"time"

	"github.com/stacktach/oahu/pkg/criterion"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/stream"
)

// Callback is a two-phase pipeline step. OnTrigger runs first and may
// stage work in scratchpad; Commit runs only if every step's OnTrigger
// succeeded, and finalizes the staged work.
type Callback interface {
	Name() string
	OnTrigger(s *stream.Stream, scratchpad map[string]any) error
	Commit(s *stream.Stream, scratchpad map[string]any) error
}

// Definition binds identifying traits, a firing criterion, and a pipeline
// of callbacks under a unique name.
type Definition struct {
	Name              string
	IdentifyingTraits []string // "/"-separated trait paths, in declared order
	Criterion         criterion.Criterion
	PipelineCallbacks []Callback
}

// Applies reports whether every identifying trait path is present on the
// event. A missing trait means the trigger does not apply — it never
// panics or errors, matching the original system's "missing key means no"
// rule.
func (d *Definition) Applies(e event.Event) bool {
	for _, path := range d.IdentifyingTraits {
		if _, ok := event.Fetch(e, path); !ok {
			return false
		}
	}
	return true
}

// IdentifyingTraitDict extracts the identifying trait values from an
// event, skipping any trait path that isn't present. Call Applies first
// if you need "all traits present" semantics — IdentifyingTraitDict alone
// tolerates partial matches for callers that already know the trigger
// applies.
func (d *Definition) IdentifyingTraitDict(e event.Event) stream.IdentifyingTraits {
	traits := make(stream.IdentifyingTraits, len(d.IdentifyingTraits))
	for _, path := range d.IdentifyingTraits {
		v, ok := event.Fetch(e, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			traits[path] = s
		}
	}
	return traits
}

// ShouldFire delegates to the trigger's criterion. lastEvent is nil on a
// periodic (event-less) check.
func (d *Definition) ShouldFire(s *stream.Stream, lastEvent *event.Event, now time.Time) bool {
	if d.Criterion == nil {
		return false
	}
	return d.Criterion.ShouldFire(s, lastEvent, now)
}
