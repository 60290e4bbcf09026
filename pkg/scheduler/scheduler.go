// Package scheduler drives the three periodic roles a deployment runs —
// trigger (expiry sweeps), ready (claim + run callbacks), completed
// (purge processed streams) — either as a single pass or as a daemon
// loop, the way the teacher's pkg/cleanup ticker loop and the original
// client.py run() loop both do.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/stacktach/oahu/pkg/callback"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/trigger"
)

// ChunkSizes sets each role's chunk size. Ready and Completed bound how
// many streams one pass handles; Expiry is the page size of the trigger
// role's sweep, which follows the store's cursor through every page in
// the same pass, so it does not bound the pass when the store returns a
// cursor (Postgres). -1 means unbounded, matching config.py's get_*_chunk_size() default.
type ChunkSizes struct {
	Expiry    int
	Ready     int
	Completed int
}

// Driver runs the periodic roles against a store and trigger definitions.
type Driver struct {
	Store    store.Store
	Triggers []*trigger.Definition
	Host     *callback.Host
	Chunks   ChunkSizes
	Log      *slog.Logger

	debuggers map[string]debugger.Debugger
}

// NewDriver builds a Driver. dbgs maps trigger name to its Debugger; a
// trigger missing from the map gets a no-op debugger.
func NewDriver(s store.Store, triggers []*trigger.Definition, dbgs map[string]debugger.Debugger, chunks ChunkSizes) *Driver {
	return &Driver{
		Store:     s,
		Triggers:  triggers,
		Host:      callback.NewHost(s),
		Chunks:    chunks,
		Log:       slog.Default(),
		debuggers: dbgs,
	}
}

func (d *Driver) debuggerFor(name string) debugger.Debugger {
	if dbg, ok := d.debuggers[name]; ok {
		return dbg
	}
	return debugger.NoOp()
}

// RunTriggerRole sweeps the Collecting streams of every trigger
// definition, page by page for as long as the store returns a next cursor
// (the in-memory store returns none, so it is read for one page), and
// fires their criterion with no new event (a periodic,
// event-less check) — this is how an Inactive criterion ever fires
// without a closing event arriving.
func (d *Driver) RunTriggerRole(ctx context.Context) (checked int, err error) {
	now := time.Now().UTC()
	for _, def := range d.Triggers {
		dbg := d.debuggerFor(def.Name)
		var cursor *store.Cursor
		for {
			streams, next, err := d.Store.CollectingStreams(ctx, def.Name, cursor, d.Chunks.Expiry)
			if err != nil {
				return checked, err
			}
			for _, s := range streams {
				checked++
				if !def.ShouldFire(s, nil, now) {
					dbg.CriteriaMismatch("criterion_not_met")
					continue
				}
				dbg.CriteriaMatch()
				if err := d.Store.MarkReady(ctx, s.ID, s.StateVersion); err != nil && err != store.ErrConflict {
					return checked, err
				}
			}
			if next == nil || len(streams) == 0 {
				break
			}
			cursor = next
		}
	}
	return checked, nil
}

// RunReadyRole claims up to one chunk of Ready streams and runs their
// callback pipeline to completion (Processed/Error/CommitError).
// Multiple processes may run this role concurrently; ClaimReady's
// compare-and-swap ensures each stream is only ever run once.
func (d *Driver) RunReadyRole(ctx context.Context) (processed int, err error) {
	defByName := make(map[string]*trigger.Definition, len(d.Triggers))
	for _, def := range d.Triggers {
		defByName[def.Name] = def
	}

	streams, err := d.Store.ReadyStreams(ctx, d.Chunks.Ready)
	if err != nil {
		return 0, err
	}

	for _, s := range streams {
		def, ok := defByName[s.TriggerName]
		if !ok {
			d.Log.Warn("ready stream references unknown trigger definition", "stream_id", s.ID, "trigger", s.TriggerName)
			continue
		}

		claimedVersion := s.StateVersion
		if err := d.Store.ClaimReady(ctx, s.ID, claimedVersion); err != nil {
			if err == store.ErrConflict {
				continue // another worker won the claim
			}
			return processed, err
		}

		claimed, err := d.Store.GetStream(ctx, s.ID)
		if err != nil {
			return processed, err
		}

		if runErr := d.Host.Run(ctx, def, claimed, claimed.StateVersion, d.debuggerFor(def.Name)); runErr != nil {
			d.Log.Error("callback pipeline failed", "stream_id", s.ID, "trigger", s.TriggerName, "error", runErr)
		}
		processed++
	}
	return processed, nil
}

// RunCompletedRole purges Processed streams in chunks, never touching
// their underlying events (invariant I4).
func (d *Driver) RunCompletedRole(ctx context.Context) (purged int, err error) {
	return d.Store.PurgeProcessed(ctx, d.Chunks.Completed)
}

// Role identifies one of the three periodic roles.
type Role string

const (
	RoleTrigger   Role = "trigger"
	RoleReady     Role = "ready"
	RoleCompleted Role = "completed"
)

// RunOnce runs a single role pass and logs a one-line summary.
func (d *Driver) RunOnce(ctx context.Context, role Role) error {
	switch role {
	case RoleTrigger:
		n, err := d.RunTriggerRole(ctx)
		d.Log.Info("trigger role pass complete", "checked", n)
		return err
	case RoleReady:
		n, err := d.RunReadyRole(ctx)
		d.Log.Info("ready role pass complete", "processed", n)
		return err
	case RoleCompleted:
		n, err := d.RunCompletedRole(ctx)
		d.Log.Info("completed role pass complete", "purged", n)
		return err
	default:
		return errUnknownRole(role)
	}
}

type errUnknownRole Role

func (e errUnknownRole) Error() string { return "scheduler: unknown role " + string(e) }

// RunDaemon runs RunOnce for role repeatedly at pollInterval until ctx is
// canceled, dumping and resetting trigger debuggers after every pass —
// matching the original client.py run() loop's dump-then-sleep cadence.
func (d *Driver) RunDaemon(ctx context.Context, role Role, pollInterval time.Duration, detailedDump bool) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	runAndDump := func() {
		if err := d.RunOnce(ctx, role); err != nil {
			d.Log.Error("periodic role pass failed", "role", role, "error", err)
		}
		for _, def := range d.Triggers {
			dbg := d.debuggerFor(def.Name)
			snap := dbg.Snapshot()
			if detailedDump {
				debugger.DumpDetailed(d.Log, snap)
			} else {
				debugger.DumpSimple(d.Log, snap)
			}
			dbg.Reset()
		}
	}

	runAndDump()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runAndDump()
		}
	}
}
