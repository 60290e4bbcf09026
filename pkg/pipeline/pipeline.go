// Package pipeline wires a Store, a set of trigger definitions, a
// callback host, and per-trigger debuggers into the single entry point
// event producers call to feed the engine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

// Pipeline is the facade event producers and the periodic roles both use.
type Pipeline struct {
	Store     store.Store
	Triggers  []*trigger.Definition
	Debuggers map[string]debugger.Debugger // keyed by trigger name
	Log       *slog.Logger
}

// New builds a Pipeline for the given store and trigger definitions, with
// a counting Debugger allocated per trigger.
func New(s store.Store, triggers []*trigger.Definition) *Pipeline {
	dbgs := make(map[string]debugger.Debugger, len(triggers))
	for _, d := range triggers {
		dbgs[d.Name] = debugger.NewCounting(d.Name)
	}
	return &Pipeline{
		Store:     s,
		Triggers:  triggers,
		Debuggers: dbgs,
		Log:       slog.Default(),
	}
}

// AddEvent saves the event once, then evaluates every trigger definition
// against it, appending it to (or creating) each matching trigger's
// active Collecting stream, and checking whether that stream should fire.
// Mirrors the original system's add_event: one event may feed many
// streams across different triggers.
func (p *Pipeline) AddEvent(ctx context.Context, e event.Event) error {
	if _, err := e.UniqueID(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if err := p.Store.SaveEvent(ctx, e); err != nil {
		return fmt.Errorf("pipeline: save event: %w", err)
	}

	now := time.Now().UTC()
	for _, def := range p.Triggers {
		dbg := p.debuggerFor(def.Name)

		if !def.Applies(e) {
			dbg.TraitMismatch()
			continue
		}
		dbg.TraitMatch()

		traits := def.IdentifyingTraitDict(e)
		s, created, err := p.Store.AppendEvent(ctx, def.Name, traits, e, now)
		if err != nil {
			return fmt.Errorf("pipeline: append event to trigger %q: %w", def.Name, err)
		}
		if created {
			dbg.NewStream()
		}

		if err := p.checkForTrigger(ctx, def, s, &e, now, dbg); err != nil {
			return err
		}
	}
	return nil
}

// checkForTrigger evaluates a trigger's criterion against a stream and
// moves it to Ready if it fires. Only Collecting streams are eligible —
// a stream already Ready/Triggered/etc. is left alone, matching the
// original's state guard.
func (p *Pipeline) checkForTrigger(ctx context.Context, def *trigger.Definition, s *stream.Stream, e *event.Event, now time.Time, dbg debugger.Debugger) error {
	if s.State != stream.Collecting {
		return nil
	}

	if !def.ShouldFire(s, e, now) {
		dbg.CriteriaMismatch("criterion_not_met")
		return nil
	}
	dbg.CriteriaMatch()

	if err := p.Store.MarkReady(ctx, s.ID, s.StateVersion); err != nil {
		if err == store.ErrConflict {
			// Another pass already moved it; nothing to do.
			return nil
		}
		return fmt.Errorf("pipeline: mark trigger %q stream %s ready: %w", def.Name, s.ID, err)
	}
	return nil
}

func (p *Pipeline) debuggerFor(triggerName string) debugger.Debugger {
	if d, ok := p.Debuggers[triggerName]; ok {
		return d
	}
	return debugger.NoOp()
}

// DumpDebuggers logs every trigger's current counters and resets them —
// matching the periodic client loop's dump-then-reset cadence.
func (p *Pipeline) DumpDebuggers(detailed bool) {
	for _, def := range p.Triggers {
		dbg := p.debuggerFor(def.Name)
		snap := dbg.Snapshot()
		if detailed {
			debugger.DumpDetailed(p.Log, snap)
		} else {
			debugger.DumpSimple(p.Log, snap)
		}
		dbg.Reset()
	}
}
