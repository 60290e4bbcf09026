// Package cleanup runs the "completed" periodic role as a standalone
// background service: purging Processed streams on its own ticker,
// independent of whatever cadence the trigger/ready roles run at.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/store"
)

// Service periodically purges Processed streams. It never touches
// events or memberships directly — invariant I4 reserves their deletion
// (never, for the core engine) entirely to store.Store.PurgeProcessed,
// which this service only calls, never bypasses.
//
// All operations are idempotent and safe to run from multiple pods:
// PurgeProcessed only ever removes streams already in a terminal state.
type Service struct {
	config    *config.RetentionConfig
	store     store.Store
	chunkSize int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. chunkSize bounds how many
// Processed streams a single pass purges; <=0 means unbounded.
func NewService(cfg *config.RetentionConfig, s store.Store, chunkSize int) *Service {
	return &Service{
		config:    cfg,
		store:     s,
		chunkSize: chunkSize,
	}
}

// Start launches the background cleanup loop. It is safe to call once;
// a second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"cleanup_interval", s.config.CleanupInterval,
		"chunk_size", s.chunkSize)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	purged, err := s.store.PurgeProcessed(ctx, s.chunkSize)
	if err != nil {
		slog.Error("Retention: purge processed streams failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("Retention: purged processed streams", "count", purged)
	}
}
