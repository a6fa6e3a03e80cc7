package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 18990, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "gpt-5-nano", cfg.Agent.DefaultModel)
	assert.Equal(t, 120, cfg.Providers.TimeoutSeconds)
}

func TestLoadParsesAndFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
gateway:
  port: 9000
providers:
  openai:
    apiKey: sk-test
agent:
  defaultModel: claude-haiku-4-5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind) // default survives partial config
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "claude-haiku-4-5", cfg.Agent.DefaultModel)
	assert.True(t, cfg.Production())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestExpandEnvVarsInCredentials(t *testing.T) {
	t.Setenv("TEST_LM_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  anthropic:
    apiKey: ${TEST_LM_KEY}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers.Anthropic.APIKey)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	assert.Equal(t, "${LM_DEFINITELY_UNSET}", expandEnvVars("${LM_DEFINITELY_UNSET}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOREMASTER_GATEWAY_PORT", "7777")
	t.Setenv("LOREMASTER_LOG_LEVEL", "DEBUG")
	t.Setenv("LOREMASTER_ENV", "production")
	t.Setenv("LOREMASTER_MODEL", "gpt-4o-mini")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.DefaultModel)
}

func TestProviderKeyFallsBackToStandardEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-ambient")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ambient", cfg.Providers.OpenAI.APIKey)
}

func TestResolvePathsHonorsHomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOREMASTER_HOME", dir)

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, paths.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(dir, "loremaster.db"), paths.Database)

	require.NoError(t, paths.EnsureDirs())
	info, err := os.Stat(paths.Logs)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDatabasePathPrefersConfig(t *testing.T) {
	t.Setenv("LOREMASTER_HOME", t.TempDir())
	paths, err := ResolvePaths()
	require.NoError(t, err)

	cfg := Defaults()
	assert.Equal(t, paths.Database, paths.DatabasePath(&cfg))
	cfg.Database.Path = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", paths.DatabasePath(&cfg))
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 99999
	cfg.Gateway.Bind = "multicast"
	cfg.Logging.Level = "verbose"
	cfg.Environment = "staging"
	cfg.Agent.DefaultModel = "gpt-9000"
	cfg.Gateway.TLS.Enabled = true

	issues := Validate(&cfg)
	paths := make([]string, len(issues))
	for i, issue := range issues {
		paths[i] = issue.Path
	}
	assert.Contains(t, paths, "gateway.port")
	assert.Contains(t, paths, "gateway.bind")
	assert.Contains(t, paths, "logging.level")
	assert.Contains(t, paths, "environment")
	assert.Contains(t, paths, "agent.defaultModel")
	assert.Contains(t, paths, "gateway.tls.certPath")
	assert.Contains(t, paths, "gateway.tls.keyPath")
}
