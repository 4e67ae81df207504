// Package config loads the TOML document naming, per capture source, the
// ordered list of candidate track-handler names to try against each track
// — the in-scope replacement for original_source's disk-analyse config
// grammar (config.c's drive/image tables), embedded and parsed with
// go:embed and BurntSushi/toml.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed floppy.toml
var defaultConfigData []byte

// Global state for the currently selected source, set by Initialize.
var (
	SourceName    string
	NominalCellNs float64
	Candidates    []string
)

// Config is the entire TOML document.
type Config struct {
	Default string   `toml:"default"`
	Source  []Source `toml:"source"`
}

// Source names one capture profile: the nominal cell width a track from it
// is expected to carry, and the ordered candidate handler list
// track.Registry.Analyse should try for every track taken from it.
type Source struct {
	Name          string   `toml:"name"`
	NominalCellNs float64  `toml:"nominal_cell_ns"`
	Candidates    []string `toml:"candidates"`
}

// configPath determines the config file location based on the operating
// system.
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "fluxdisk")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".fluxdisk"), nil
}

// Load reads and validates the configuration file, creating it from the
// embedded default if it doesn't exist yet.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}
	if err := validate(&conf); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}

	return &conf, nil
}

// validate checks the structural invariants Load requires of a parsed
// Config: a default naming a source that actually exists, and every source
// carrying a positive cell width and at least one candidate handler.
func validate(conf *Config) error {
	if conf.Default == "" {
		return errors.New("`default` key is missing or empty")
	}
	for i := range conf.Source {
		src := &conf.Source[i]
		if src.NominalCellNs <= 0 {
			return fmt.Errorf("source %q has invalid nominal_cell_ns: %v (must be positive)", src.Name, src.NominalCellNs)
		}
		if len(src.Candidates) == 0 {
			return fmt.Errorf("source %q has no candidate handlers listed", src.Name)
		}
	}
	if _, ok := conf.Select(conf.Default); !ok {
		return fmt.Errorf("default source %q not found in source array", conf.Default)
	}
	return nil
}

// Select finds a source by name.
func (c *Config) Select(name string) (*Source, bool) {
	for i := range c.Source {
		if c.Source[i].Name == name {
			return &c.Source[i], true
		}
	}
	return nil, false
}

// Initialize loads the configuration and selects its default source,
// storing the result in SourceName/NominalCellNs/Candidates for callers
// that don't need to juggle an explicit *Config (e.g. the cmd package's
// single-source-at-a-time commands).
func Initialize() error {
	conf, err := Load()
	if err != nil {
		return err
	}
	src, _ := conf.Select(conf.Default) // presence already checked by Load
	SourceName = src.Name
	NominalCellNs = src.NominalCellNs
	Candidates = make([]string, len(src.Candidates))
	copy(Candidates, src.Candidates)
	return nil
}
