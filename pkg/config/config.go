package config

import "github.com/stacktach/oahu/pkg/trigger"

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the pipeline, store construction, and CLI.
type Config struct {
	configDir string // configuration directory path (for reference)

	// Defaults holds polling cadence and per-role chunk sizes.
	Defaults *Defaults

	// Queue configures the "ready" role's worker pool.
	Queue *QueueConfig

	// Retention configures the "completed" role's purge cadence.
	Retention *RetentionConfig

	// Store selects and configures the backing store.Store implementation.
	Store *StoreSpec

	// Server configures the debug HTTP surface.
	Server *ServerConfig

	// Triggers holds the fully constructed trigger definitions, ready to
	// hand to pkg/pipeline and pkg/scheduler.
	Triggers []*trigger.Definition

	// TriggerSpecs holds the raw YAML specs the triggers were built from,
	// kept for CLI/debug surfaces that want to display configuration as
	// written rather than as constructed.
	TriggerSpecs []TriggerSpec
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	Triggers int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{Triggers: len(c.Triggers)}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetTrigger retrieves a trigger definition by name.
func (c *Config) GetTrigger(name string) (*trigger.Definition, error) {
	for _, d := range c.Triggers {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, ErrTriggerNotFound
}

// GetReadyChunkSize returns the per-pass bound on how many Ready streams
// the "ready" role claims and runs callbacks for. -1 means unbounded.
func (c *Config) GetReadyChunkSize() int {
	return c.Defaults.ReadyChunkSize
}

// GetExpiryChunkSize returns the page size in which the "trigger" role
// reads each trigger's Collecting streams. On the Postgres store a pass
// reads every page; on the in-memory store it reads one. -1 means
// unbounded.
func (c *Config) GetExpiryChunkSize() int {
	return c.Defaults.ExpiryChunkSize
}

// GetCompletedChunkSize returns the per-pass bound on how many Processed
// streams the "completed" role purges. -1 means unbounded.
func (c *Config) GetCompletedChunkSize() int {
	return c.Defaults.CompletedChunkSize
}

// GetPollingRateSeconds returns the default daemon-mode sleep between
// role passes, absent a --polling-rate override.
func (c *Config) GetPollingRateSeconds() int {
	return c.Defaults.PollingRateSeconds
}
