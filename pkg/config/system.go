package config

// ServerConfig holds resolved debug/observability HTTP surface settings.
type ServerConfig struct {
	Addr             string   // listen address for the gin debug surface (default: ":8080")
	AllowedWSOrigins []string // additional accepted WebSocket origin patterns
}
