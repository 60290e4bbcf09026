package config

import "time"

// RetentionConfig controls the "completed" periodic role — purging
// Processed streams. Invariant I4 forbids deleting events or memberships
// from the core engine, so this only ever governs stream purging, not
// event TTL.
type RetentionConfig struct {
	// CleanupInterval is how often cleanup.Service runs a purge pass. The
	// "oahu completed --daemon" loop does not read it; that loop runs at
	// the polling rate.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CleanupInterval: 1 * time.Hour,
	}
}
