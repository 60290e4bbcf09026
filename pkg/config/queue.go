package config

import "time"

// QueueConfig contains worker-pool configuration for the "ready" role —
// the multi-worker, optimistic-claim loop that runs triggered streams'
// callback pipelines.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process. Each
	// worker independently polls and claims Ready streams.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentStreams caps how many streams may be in Triggered
	// state across all cooperating processes at once.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams"`

	// PollInterval is the base interval between claim attempts.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so
	// cooperating workers don't all poll in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// CallbackTimeout bounds how long a single stream's callback
	// pipeline may run before the worker gives up on it.
	CallbackTimeout time.Duration `yaml:"callback_timeout"`

	// GracefulShutdownTimeout bounds how long `oahu serve` waits for the
	// debug HTTP server to shut down. WorkerPool.Stop does not read it.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// StaleTriggeredInterval is how often the pool scans for streams
	// stuck in Triggered state (a worker claimed them, then its process
	// died before the callback pipeline finished).
	StaleTriggeredInterval time.Duration `yaml:"stale_triggered_interval"`

	// StaleTriggeredThreshold is how long a stream may sit in Triggered
	// with no state change before it is considered abandoned and moved
	// to Error (Triggered→Error is a legal transition; there is no path
	// back to Ready, so recovery means surfacing the failure, not
	// re-queuing).
	StaleTriggeredThreshold time.Duration `yaml:"stale_triggered_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentStreams:    20,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		CallbackTimeout:         5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		StaleTriggeredInterval:  1 * time.Minute,
		StaleTriggeredThreshold: 15 * time.Minute,
	}
}
