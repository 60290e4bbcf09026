package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OahuYAMLConfig represents the complete oahu.yaml file structure.
type OahuYAMLConfig struct {
	Triggers  []TriggerSpec     `yaml:"triggers"`
	Store     *StoreSpec        `yaml:"store"`
	Defaults  *Defaults         `yaml:"defaults"`
	Queue     *QueueConfig      `yaml:"queue"`
	Retention *RetentionConfig  `yaml:"retention"`
	Server    *ServerYAMLConfig `yaml:"server"`
}

// ServerYAMLConfig groups the debug HTTP surface's YAML settings.
type ServerYAMLConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load oahu.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined trigger definitions
//  5. Build TriggerDefinitions (resolving criteria and pipeline callbacks)
//  6. Apply default values (chunk sizes, polling rate, queue, retention)
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string, callbacks map[string]CallbackFactory) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully", "triggers", stats.Triggers)

	return cfg, nil
}

func load(_ context.Context, configDir string, callbacks map[string]CallbackFactory) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	oahuConfig, err := loader.loadOahuYAML()
	if err != nil {
		return nil, NewLoadError("oahu.yaml", err)
	}

	builtin := GetBuiltinConfig()
	triggerSpecs := mergeTriggers(builtin.Triggers, oahuConfig.Triggers)

	defs, err := BuildTriggerDefinitions(triggerSpecs, callbacks)
	if err != nil {
		return nil, err
	}

	defaults := oahuConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.PollingRateSeconds == 0 {
		defaults.PollingRateSeconds = 300
	}
	if defaults.ReadyChunkSize == 0 {
		defaults.ReadyChunkSize = -1
	}
	if defaults.ExpiryChunkSize == 0 {
		defaults.ExpiryChunkSize = -1
	}
	if defaults.CompletedChunkSize == 0 {
		defaults.CompletedChunkSize = -1
	}

	queueConfig := DefaultQueueConfig()
	if oahuConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, oahuConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retentionConfig := DefaultRetentionConfig()
	if oahuConfig.Retention != nil {
		if err := mergo.Merge(retentionConfig, oahuConfig.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	storeSpec := oahuConfig.Store
	if storeSpec == nil {
		storeSpec = &StoreSpec{Backend: StoreBackendMemory}
	}

	server := resolveServerConfig(oahuConfig.Server)

	return &Config{
		configDir:    configDir,
		Defaults:     defaults,
		Queue:        queueConfig,
		Retention:    retentionConfig,
		Store:        storeSpec,
		Server:       server,
		Triggers:     defs,
		TriggerSpecs: triggerSpecs,
	}, nil
}

func validate(cfg *Config) error {
	if cfg.Store != nil && !cfg.Store.Backend.IsValid() {
		return NewValidationError("store", "backend", "", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Store.Backend))
	}
	for _, def := range cfg.Triggers {
		if len(def.IdentifyingTraits) == 0 {
			return NewValidationError("trigger", def.Name, "identifying_traits", ErrMissingRequiredField)
		}
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadOahuYAML() (*OahuYAMLConfig, error) {
	var cfg OahuYAMLConfig
	if err := l.loadYAML("oahu.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveServerConfig(sys *ServerYAMLConfig) *ServerConfig {
	cfg := &ServerConfig{Addr: ":8080"}
	if sys == nil {
		return cfg
	}
	if sys.Addr != "" {
		cfg.Addr = sys.Addr
	}
	cfg.AllowedWSOrigins = sys.AllowedWSOrigins
	return cfg
}

// BuiltinConfig holds the trigger definitions shipped with the binary,
// merged under any user-supplied oahu.yaml triggers of the same name.
type BuiltinConfig struct {
	Triggers []TriggerSpec
}

// GetBuiltinConfig returns the built-in trigger defaults. There are none
// shipped out of the box — every deployment supplies its own
// trigger/criterion/callback wiring via oahu.yaml.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{Triggers: nil}
}
