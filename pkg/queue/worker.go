package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stacktach/oahu/pkg/callback"
	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for, claims, and runs the
// callback pipeline of Ready streams.
type Worker struct {
	id       string
	podID    string
	store    store.Store
	config   *config.QueueConfig
	host     *callback.Host
	triggers map[string]*trigger.Definition
	debugger func(name string) debugger.Debugger
	pool     StreamRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.RWMutex
	status           WorkerStatus
	currentStreamID  string
	streamsProcessed int
	lastActivity     time.Time
}

// StreamRegistry is the subset of WorkerPool used by Worker for stream registration.
type StreamRegistry interface {
	RegisterStream(streamID string, cancel context.CancelFunc)
	UnregisterStream(streamID string)
	debuggerFor(name string) debugger.Debugger
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, s store.Store, cfg *config.QueueConfig, host *callback.Host, triggers map[string]*trigger.Definition, pool *WorkerPool) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        s,
		config:       cfg,
		host:         host,
		triggers:     triggers,
		debugger:     pool.debuggerFor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           string(w.status),
		CurrentStreamID:  w.currentStreamID,
		StreamsProcessed: w.streamsProcessed,
		LastActivity:     w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoStreamsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing stream", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a Ready stream, and runs its
// callback pipeline.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity: the number of Triggered streams (best-effort;
	//    racy with concurrent workers but bounded by WorkerCount and
	//    mitigated by poll jitter).
	var activeCount int
	for name := range w.triggers {
		triggered, err := w.store.FindStreams(ctx, name, stream.Triggered, 0)
		if err != nil {
			return fmt.Errorf("checking triggered streams: %w", err)
		}
		activeCount += len(triggered)
	}
	if activeCount >= w.config.MaxConcurrentStreams {
		return ErrAtCapacity
	}

	// 2. Claim next Ready stream
	claimed, def, err := w.claimNextStream(ctx)
	if err != nil {
		return err
	}

	log := slog.With("stream_id", claimed.ID, "trigger_name", def.Name, "worker_id", w.id)
	log.Info("Stream claimed")

	w.setStatus(WorkerStatusWorking, claimed.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Register cancel function so WorkerPool.CancelStream can cancel the run
	streamCtx, cancel := context.WithTimeout(ctx, w.config.CallbackTimeout)
	defer cancel()
	w.pool.RegisterStream(claimed.ID, cancel)
	defer w.pool.UnregisterStream(claimed.ID)

	// 4. Run the two-phase callback pipeline
	if err := w.host.Run(streamCtx, def, claimed, claimed.StateVersion, w.debugger(def.Name)); err != nil {
		log.Error("callback pipeline failed", "error", err)
	}

	w.mu.Lock()
	w.streamsProcessed++
	w.mu.Unlock()

	log.Info("Stream processing complete")
	return nil
}

// claimNextStream polls for a Ready stream and wins the optimistic
// compare-and-swap claim into Triggered. If another worker wins the
// race first, it moves on to the next candidate rather than retrying
// the same stream.
func (w *Worker) claimNextStream(ctx context.Context) (*stream.Stream, *trigger.Definition, error) {
	candidates, err := w.store.ReadyStreams(ctx, len(w.triggers))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query ready streams: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoStreamsAvailable
	}

	for _, s := range candidates {
		def, ok := w.triggers[s.TriggerName]
		if !ok {
			slog.Warn("ready stream references unknown trigger definition", "stream_id", s.ID, "trigger", s.TriggerName)
			continue
		}

		if err := w.store.ClaimReady(ctx, s.ID, s.StateVersion); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // another worker already won this one
			}
			return nil, nil, fmt.Errorf("failed to claim stream %s: %w", s.ID, err)
		}

		claimed, err := w.store.GetStream(ctx, s.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reload claimed stream %s: %w", s.ID, err)
		}
		return claimed, def, nil
	}

	return nil, nil, ErrNoStreamsAvailable
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, streamID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentStreamID = streamID
	w.lastActivity = time.Now()
}
