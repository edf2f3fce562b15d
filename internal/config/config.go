// Package config loads unlua.toml, the optional per-project settings file
// for the optimizer driver.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"unlua/internal/opt"
	"unlua/internal/trace"
)

// FileName is the settings file looked up from the working directory
// upwards.
const FileName = "unlua.toml"

// Config mirrors unlua.toml.
type Config struct {
	Optimize Optimize `toml:"optimize"`
	Trace    Trace    `toml:"trace"`
	Cache    Cache    `toml:"cache"`

	// Path is the file the settings came from, empty for defaults.
	Path string `toml:"-"`
}

type Optimize struct {
	Passes    []string `toml:"passes"`
	MaxRounds int      `toml:"max_rounds"`
	Jobs      int      `toml:"jobs"`
	Validate  bool     `toml:"validate"`
}

type Trace struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Default returns the settings used when no file is found.
func Default() Config {
	return Config{
		Optimize: Optimize{
			Passes:    slices.Clone(opt.DefaultPasses),
			MaxRounds: opt.DefaultMaxRounds,
		},
		Trace: Trace{
			Level:    "off",
			Mode:     "ring",
			Output:   "-",
			RingSize: 4096,
		},
		Cache: Cache{Enabled: true},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest unlua.toml above startDir, or returns Default
// when there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load reads path on top of Default. Keys the file leaves out keep their
// default value; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	cfg.Path = path

	var errs []error
	for _, key := range meta.Undecoded() {
		errs = append(errs, fmt.Errorf("unknown key %s", key))
	}
	if meta.IsDefined("optimize", "passes") && len(cfg.Optimize.Passes) == 0 {
		errs = append(errs, errors.New("[optimize].passes is empty"))
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c Config) Validate() error {
	var errs []error
	for _, name := range c.Optimize.Passes {
		if _, err := opt.Lookup(strings.TrimSpace(name)); err != nil {
			errs = append(errs, fmt.Errorf("[optimize].passes: %w", err))
		}
	}
	if c.Optimize.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("[optimize].max_rounds must be positive, got %d", c.Optimize.MaxRounds))
	}
	if c.Optimize.Jobs < 0 {
		errs = append(errs, fmt.Errorf("[optimize].jobs must not be negative, got %d", c.Optimize.Jobs))
	}
	if _, err := c.TraceConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TraceConfig converts the [trace] section into a tracer configuration.
func (c Config) TraceConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].level: %w", err)
	}
	mode, err := trace.ParseMode(c.Trace.Mode)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].mode: %w", err)
	}
	format, err := trace.ParseFormat(c.Trace.Format)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].format: %w", err)
	}
	if c.Trace.RingSize < 0 {
		return trace.Config{}, fmt.Errorf("[trace].ring_size must not be negative, got %d", c.Trace.RingSize)
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
	}, nil
}
