// Package config handles magcov.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/chazu/magcov/diag"
	"github.com/chazu/magcov/probe"
)

// FileName is the name of the configuration file.
const FileName = "magcov.toml"

// Config represents a magcov.toml configuration.
type Config struct {
	Instrumentation Instrumentation `toml:"instrumentation"`
	Runtime         Runtime         `toml:"runtime"`
	Log             Log             `toml:"log"`

	// Dir is the directory containing the magcov.toml file (set at load time).
	Dir string `toml:"-"`
}

// Instrumentation configures which classes are rewritten and how.
type Instrumentation struct {
	Branches     bool     `toml:"branches"`
	Instructions bool     `toml:"instructions"`
	TestTracking bool     `toml:"test-tracking"`
	Include      []string `toml:"include"`
	Exclude      []string `toml:"exclude"`
	Filters      []string `toml:"filters"`
	Workers      int      `toml:"workers"`
}

// Runtime configures the counter arrays.
type Runtime struct {
	Counters string `toml:"counters"`
}

// Log configures the error side channel.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Instrumentation: Instrumentation{
			Branches: true,
			Filters:  []string{"null-check", "assertions"},
		},
		Runtime: Runtime{Counters: probe.Relaxed.String()},
		Log:     Log{File: diag.DefaultLogFile},
	}
}

// Parse decodes configuration text over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load parses a magcov.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a magcov.toml file, then loads
// and returns the configuration. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks patterns, counter mode and worker count.
func (c *Config) Validate() error {
	for _, p := range append(append([]string(nil), c.Instrumentation.Include...), c.Instrumentation.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid class pattern %q", p)
		}
	}
	if _, err := c.CounterMode(); err != nil {
		return err
	}
	if c.Instrumentation.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Instrumentation.Workers)
	}
	return nil
}

// CounterMode returns the configured increment strategy.
func (c *Config) CounterMode() (probe.Mode, error) {
	return probe.ParseMode(c.Runtime.Counters)
}

// Accepts reports whether a slash-qualified class name is selected for
// instrumentation: it must match an include pattern (any name does when
// there are none) and no exclude pattern.
func (c *Config) Accepts(className string) bool {
	if len(c.Instrumentation.Include) > 0 && !matchAny(c.Instrumentation.Include, className) {
		return false
	}
	return !matchAny(c.Instrumentation.Exclude, className)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// LogFilePath returns the absolute path of the error log, or "" when
// logging goes to the console.
func (c *Config) LogFilePath() string {
	if c.Log.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Log.File) || c.Dir == "" {
		return c.Log.File
	}
	return filepath.Join(c.Dir, c.Log.File)
}
