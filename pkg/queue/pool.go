package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stacktach/oahu/pkg/callback"
	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/trigger"
)

// WorkerPool manages a pool of queue workers cooperatively claiming Ready
// streams for a single process.
type WorkerPool struct {
	podID    string
	store    store.Store
	config   *config.QueueConfig
	host     *callback.Host
	triggers map[string]*trigger.Definition
	dbgs     map[string]debugger.Debugger
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Stream cancel registry: stream_id → cancel function
	activeStreams map[string]context.CancelFunc
	mu            sync.RWMutex
	started       bool

	// Stale-Triggered recovery state
	stale staleState
}

// NewWorkerPool creates a new worker pool. dbgs maps trigger name to its
// Debugger; a trigger missing from the map gets a no-op debugger.
func NewWorkerPool(podID string, s store.Store, cfg *config.QueueConfig, triggers []*trigger.Definition, dbgs map[string]debugger.Debugger) *WorkerPool {
	byName := make(map[string]*trigger.Definition, len(triggers))
	for _, def := range triggers {
		byName[def.Name] = def
	}
	return &WorkerPool{
		podID:         podID,
		store:         s,
		config:        cfg,
		host:          callback.NewHost(s),
		triggers:      byName,
		dbgs:          dbgs,
		workers:       make([]*Worker, 0, cfg.WorkerCount),
		stopCh:        make(chan struct{}),
		activeStreams: make(map[string]context.CancelFunc),
	}
}

func (p *WorkerPool) debuggerFor(name string) debugger.Debugger {
	if dbg, ok := p.dbgs[name]; ok {
		return dbg
	}
	return debugger.NoOp()
}

// Start spawns worker goroutines and the stale-stream recovery background
// task. It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.config, p.host, p.triggers, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStaleStreamRecovery(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current stream before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveStreamIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active streams to complete",
			"count", len(active),
			"stream_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterStream stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterStream(streamID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeStreams[streamID] = cancel
}

// UnregisterStream removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterStream(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeStreams, streamID)
}

// CancelStream triggers context cancellation for a stream on this pod.
// Returns true if the stream was found and cancelled on this pod.
func (p *WorkerPool) CancelStream(streamID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeStreams[streamID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	var activeStreams int
	var storeErr error
	for name := range p.triggers {
		n, err := p.store.NumActiveStreams(ctx, name)
		if err != nil {
			storeErr = err
			continue
		}
		activeStreams += n
	}
	if storeErr != nil {
		slog.Error("Failed to query active streams for health check",
			"pod_id", p.podID, "error", storeErr)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	storeHealthy := storeErr == nil
	isHealthy := len(p.workers) > 0 && activeStreams <= p.config.MaxConcurrentStreams && storeHealthy

	p.stale.mu.Lock()
	lastScan := p.stale.lastScan
	recovered := p.stale.recovered
	p.stale.mu.Unlock()

	var storeErrMsg string
	if !storeHealthy {
		storeErrMsg = fmt.Sprintf("active stream count query failed: %v", storeErr)
	}

	return &PoolHealth{
		IsHealthy:             isHealthy,
		StoreReachable:        storeHealthy,
		StoreError:            storeErrMsg,
		PodID:                 p.podID,
		ActiveWorkers:         activeWorkers,
		TotalWorkers:          len(p.workers),
		ActiveStreams:         activeStreams,
		MaxConcurrent:         p.config.MaxConcurrentStreams,
		WorkerStats:           workerStats,
		LastStaleScan:         lastScan,
		StaleStreamsRecovered: recovered,
	}
}

// getActiveStreamIDs returns IDs of currently processing streams (for logging).
func (p *WorkerPool) getActiveStreamIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	streams := make([]string, 0, len(p.activeStreams))
	for id := range p.activeStreams {
		streams = append(streams, id)
	}
	return streams
}
