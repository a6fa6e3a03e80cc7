package config

// Config is the root configuration for Loremaster.
type Config struct {
	Environment string          `yaml:"environment,omitempty"` // "development" | "production"
	Gateway     GatewayConfig   `yaml:"gateway,omitempty"`
	Database    DatabaseConfig  `yaml:"database,omitempty"`
	Providers   ProvidersConfig `yaml:"providers,omitempty"`
	Agent       AgentConfig     `yaml:"agent,omitempty"`
	Logging     LoggingConfig   `yaml:"logging,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	AuthToken      string      `yaml:"authToken,omitempty"` // empty disables auth
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // defaults to ~/.loremaster/loremaster.db
}

// ProvidersConfig holds upstream LLM provider credentials.
type ProvidersConfig struct {
	TimeoutSeconds int            `yaml:"timeoutSeconds,omitempty"`
	OpenAI         ProviderEntry  `yaml:"openai,omitempty"`
	Anthropic      ProviderEntry  `yaml:"anthropic,omitempty"`
}

// ProviderEntry configures one upstream provider. APIKey supports
// ${ENV_VAR} references so credentials stay out of the file.
type ProviderEntry struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// AgentConfig defines agent defaults.
type AgentConfig struct {
	DefaultModel string `yaml:"defaultModel,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File  string `yaml:"file,omitempty"`
}
