// Package callback implements the two-phase on_trigger/commit callback
// host: every pipeline callback's OnTrigger must succeed before any
// callback's Commit runs, so a stream only ever lands in Processed once
// every downstream side effect has both staged and finalized cleanly.
package callback

import (
	"context"
	"fmt"

	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

// Host runs a trigger definition's pipeline callbacks against a Triggered
// stream and records the outcome back to the store.
type Host struct {
	Store store.Store
}

// NewHost builds a callback Host bound to the given store.
func NewHost(s store.Store) *Host {
	return &Host{Store: s}
}

// Run executes the two-phase callback pipeline for s against def, using
// dbg to record trigger/commit errors. expectedVersion is the
// state_version the stream had when it was claimed into Triggered.
//
// On success the stream is marked Processed. If any callback's OnTrigger
// fails, the stream is marked Error and no Commit phase runs at all. If
// every OnTrigger succeeds but a Commit fails, the stream is marked
// CommitError — on_trigger side effects may already be visible
// externally, which callers must be able to tolerate on retry.
func (h *Host) Run(ctx context.Context, def *trigger.Definition, s *stream.Stream, expectedVersion int64, dbg debugger.Debugger) error {
	scratchpad := make(map[string]any)

	for _, cb := range def.PipelineCallbacks {
		if err := cb.OnTrigger(s, scratchpad); err != nil {
			dbg.TriggerError()
			if markErr := h.Store.MarkError(ctx, s.ID, expectedVersion, err.Error()); markErr != nil {
				return fmt.Errorf("callback %q on_trigger failed (%w) and marking error failed: %w", cb.Name(), err, markErr)
			}
			return fmt.Errorf("callback %q on_trigger failed: %w", cb.Name(), err)
		}
	}

	for _, cb := range def.PipelineCallbacks {
		if err := cb.Commit(s, scratchpad); err != nil {
			dbg.CommitError()
			if markErr := h.Store.MarkCommitError(ctx, s.ID, expectedVersion, err.Error()); markErr != nil {
				return fmt.Errorf("callback %q commit failed (%w) and marking commit_error failed: %w", cb.Name(), err, markErr)
			}
			return fmt.Errorf("callback %q commit failed: %w", cb.Name(), err)
		}
	}

	return h.Store.MarkProcessed(ctx, s.ID, expectedVersion)
}
