package config

import (
	"fmt"
	"slices"

	"github.com/mkessel/loremaster/internal/llm"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	validEnvs := []string{"development", "production"}
	if cfg.Environment != "" && !slices.Contains(validEnvs, cfg.Environment) {
		issues = append(issues, ValidationIssue{
			Path:    "environment",
			Message: fmt.Sprintf("must be one of %v, got %q", validEnvs, cfg.Environment),
		})
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	if cfg.Gateway.TLS.Enabled {
		if cfg.Gateway.TLS.CertPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "gateway.tls.certPath",
				Message: "required when TLS is enabled",
			})
		}
		if cfg.Gateway.TLS.KeyPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "gateway.tls.keyPath",
				Message: "required when TLS is enabled",
			})
		}
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	if m := cfg.Agent.DefaultModel; m != "" && !llm.SupportedModel(m) {
		issues = append(issues, ValidationIssue{
			Path:    "agent.defaultModel",
			Message: fmt.Sprintf("unknown model %q, known models: %v", m, llm.Models()),
		})
	}

	if cfg.Providers.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "providers.timeoutSeconds",
			Message: fmt.Sprintf("must be non-negative, got %d", cfg.Providers.TimeoutSeconds),
		})
	}

	return issues
}
