package config

import (
	"fmt"

	"github.com/mkessel/loremaster/internal/llm"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Environment: "development",
		Gateway: GatewayConfig{
			Port: 18990,
			Bind: "loopback",
		},
		Providers: ProvidersConfig{
			TimeoutSeconds: 120,
		},
		Agent: AgentConfig{
			DefaultModel: llm.DefaultModel,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Production reports whether the config runs in production mode.
// Diagnostic payloads like error backtraces are suppressed there.
func (c *Config) Production() bool {
	return c.Environment == "production"
}
