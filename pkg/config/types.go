package config

// CriterionSpec is the YAML shape of a trigger's firing criterion. Type
// selects which criterion.Criterion gets constructed; the remaining
// fields are interpreted according to Type.
type CriterionSpec struct {
	Type string `yaml:"type" validate:"required"`

	// Inactive
	ExpirySeconds int `yaml:"expiry_seconds,omitempty"`

	// EventType
	EventType string `yaml:"event_type,omitempty"`

	// And
	Of []CriterionSpec `yaml:"of,omitempty"`

	// EndOfDayExists
	ExistsName string `yaml:"exists_name,omitempty"`
}

// TriggerSpec is the YAML shape of a single trigger definition.
type TriggerSpec struct {
	Name              string        `yaml:"name" validate:"required"`
	IdentifyingTraits []string      `yaml:"identifying_traits" validate:"required,min=1"`
	Criterion         CriterionSpec `yaml:"criterion" validate:"required"`
	PipelineCallbacks []string      `yaml:"pipeline_callbacks,omitempty"`
	Debug             bool          `yaml:"debug,omitempty"`
}

// StoreBackend selects which store.Store implementation to construct.
type StoreBackend string

const (
	// StoreBackendMemory uses pkg/store/memory — single process, no durability.
	StoreBackendMemory StoreBackend = "memory"
	// StoreBackendPostgres uses pkg/store/postgres — durable, multi-worker safe.
	StoreBackendPostgres StoreBackend = "postgres"
)

// IsValid reports whether the store backend name is recognized.
func (b StoreBackend) IsValid() bool {
	return b == StoreBackendMemory || b == StoreBackendPostgres
}

// StoreSpec is the YAML shape of store backend selection.
type StoreSpec struct {
	Backend  StoreBackend  `yaml:"backend" validate:"required"`
	Postgres *PostgresSpec `yaml:"postgres,omitempty"`
}

// PostgresSpec is the YAML shape of Postgres connection settings.
type PostgresSpec struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}
