package config

// Defaults contains system-wide defaults for the periodic roles:
// polling cadence and per-pass chunk sizes. A chunk size of -1 means
// unbounded, matching the original system's get_*_chunk_size() contract.
type Defaults struct {
	// PollingRateSeconds is the sleep between daemon passes of a role
	// when no --polling-rate flag overrides it.
	PollingRateSeconds int `yaml:"polling_rate_seconds,omitempty"`

	// ReadyChunkSize bounds how many Ready streams a single "ready"
	// role pass claims and runs callbacks for.
	ReadyChunkSize int `yaml:"ready_chunk_size,omitempty"`

	// ExpiryChunkSize bounds how many Collecting streams a single
	// "trigger" role pass checks per trigger definition.
	ExpiryChunkSize int `yaml:"expiry_chunk_size,omitempty"`

	// CompletedChunkSize bounds how many Processed streams a single
	// "completed" role pass purges.
	CompletedChunkSize int `yaml:"completed_chunk_size,omitempty"`

	// DetailedDebugDump selects the detailed (per-reason) debugger dump
	// format instead of the one-line summary.
	DetailedDebugDump bool `yaml:"detailed_debug_dump,omitempty"`
}
