package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".loremaster"

// Paths holds resolved filesystem paths for Loremaster data.
type Paths struct {
	Base     string // ~/.loremaster
	Config   string // ~/.loremaster/config.yaml
	Database string // ~/.loremaster/loremaster.db
	Logs     string // ~/.loremaster/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If LOREMASTER_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("LOREMASTER_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		Database: filepath.Join(base, "loremaster.db"),
		Logs:     filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured database path, falling back to
// the standard location under the base directory.
func (p Paths) DatabasePath(cfg *Config) string {
	if cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	return p.Database
}
