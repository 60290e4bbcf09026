// Package queue provides a multi-worker, optimistic-claim pool for the
// "ready" periodic role: polling Ready streams, winning the
// compare-and-swap claim into Triggered, and running the two-phase
// callback pipeline to completion.
package queue

import (
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoStreamsAvailable indicates no Ready streams are currently claimable.
	ErrNoStreamsAvailable = errors.New("no streams available")

	// ErrAtCapacity indicates the global concurrent Triggered-stream limit
	// has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy             bool           `json:"is_healthy"`
	StoreReachable        bool           `json:"store_reachable"`
	StoreError            string         `json:"store_error,omitempty"`
	PodID                 string         `json:"pod_id"`
	ActiveWorkers         int            `json:"active_workers"`
	TotalWorkers          int            `json:"total_workers"`
	ActiveStreams         int            `json:"active_streams"`
	MaxConcurrent         int            `json:"max_concurrent"`
	WorkerStats           []WorkerHealth `json:"worker_stats"`
	LastStaleScan         time.Time      `json:"last_stale_scan"`
	StaleStreamsRecovered int            `json:"stale_streams_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // "idle" or "working"
	CurrentStreamID  string    `json:"current_stream_id,omitempty"`
	StreamsProcessed int       `json:"streams_processed"`
	LastActivity     time.Time `json:"last_activity"`
}
