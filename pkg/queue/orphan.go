package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
)

// staleState tracks stale-Triggered-stream recovery metrics (thread-safe).
type staleState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runStaleStreamRecovery periodically scans for streams that have been
// stuck in Triggered for too long — a worker claimed them, then its
// process died before the callback pipeline finished. All pods run this
// independently; the recovery itself is a CAS, so it is idempotent.
func (p *WorkerPool) runStaleStreamRecovery(ctx context.Context) {
	ticker := time.NewTicker(p.config.StaleTriggeredInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverStale(ctx); err != nil {
				slog.Error("Stale stream recovery failed", "error", err)
			}
		}
	}
}

// detectAndRecoverStale finds Triggered streams whose last state change
// is older than the configured threshold and moves them to Error.
// Triggered→Error is the only legal exit from Triggered other than a
// successful Processed/CommitError, so recovery surfaces the failure
// rather than attempting to resurrect the stream back to Ready.
func (p *WorkerPool) detectAndRecoverStale(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.StaleTriggeredThreshold)

	var allStale []*stream.Stream
	for name := range p.triggers {
		streams, err := p.store.FindStreams(ctx, name, stream.Triggered, 0)
		if err != nil {
			return fmt.Errorf("failed to query triggered streams for %q: %w", name, err)
		}
		for _, s := range streams {
			if s.LastUpdate.Before(threshold) {
				allStale = append(allStale, s)
			}
		}
	}

	if len(allStale) == 0 {
		p.stale.mu.Lock()
		p.stale.lastScan = time.Now()
		p.stale.mu.Unlock()
		return nil
	}

	slog.Warn("Detected stale triggered streams", "count", len(allStale))

	recovered := 0
	failed := 0
	for _, s := range allStale {
		msg := fmt.Sprintf("stale in Triggered since %s, recovered by orphan sweep", s.LastUpdate.Format(time.RFC3339))
		if err := p.store.MarkError(ctx, s.ID, s.StateVersion, msg); err != nil {
			if err == store.ErrConflict {
				// Finished (or was re-claimed and finished) between the scan
				// and this recovery attempt — not actually stale.
				continue
			}
			slog.Error("Failed to recover stale triggered stream", "stream_id", s.ID, "error", err)
			failed++
			continue
		}
		slog.Warn("Stale triggered stream marked error", "stream_id", s.ID, "trigger_name", s.TriggerName,
			"last_update", s.LastUpdate.Format(time.RFC3339))
		recovered++
	}

	p.stale.mu.Lock()
	p.stale.lastScan = time.Now()
	p.stale.recovered += recovered
	p.stale.mu.Unlock()

	if failed > 0 {
		slog.Warn("Stale stream recovery completed with failures",
			"total_stale", len(allStale),
			"recovered", recovered,
			"failed", failed)
	}

	return nil
}
