// Package config loads pyenvcheck settings from a TOML file and command
// line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/frederic-klein/pyenvcheck/internal/cache"
	"github.com/frederic-klein/pyenvcheck/internal/conda"
	"github.com/frederic-klein/pyenvcheck/internal/inspect"
	"github.com/frederic-klein/pyenvcheck/internal/report"
)

const (
	dirName         = ".pyenvcheck"
	configFileName  = "config.toml"
	historyFileName = "history.db"
)

type Config struct {
	CacheFile string        `toml:"cache_file,omitempty"`
	Conda     CondaConfig   `toml:"conda"`
	Inspect   InspectConfig `toml:"inspect"`
	Output    OutputConfig  `toml:"output"`
	History   HistoryConfig `toml:"history"`
	Log       LogConfig     `toml:"log"`
}

type CondaConfig struct {
	Executable  string   `toml:"executable,omitempty"`
	SearchPaths []string `toml:"search_paths,omitempty"`
	// MaxAge expires cached environments; zero keeps them until a refresh.
	MaxAge     Duration `toml:"max_age,omitempty"`
	Precedence string   `toml:"precedence,omitempty"` // "manual" or "conda"
}

type InspectConfig struct {
	Timeout Duration `toml:"timeout,omitempty"`
	Workers int      `toml:"workers,omitempty"`
}

type OutputConfig struct {
	Format    string `toml:"format,omitempty"` // "text" or "json"
	ShowPaths bool   `toml:"show_paths,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled,omitempty"`
	Path    string `toml:"path,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty"`
}

// Duration is a time.Duration written as "30s" or "24h" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dir returns ~/.pyenvcheck, or .pyenvcheck when there is no home
// directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

// DefaultPath returns ~/.pyenvcheck/config.toml.
func DefaultPath() string {
	return filepath.Join(Dir(), configFileName)
}

func Default() *Config {
	return &Config{
		Conda: CondaConfig{
			Precedence: string(conda.PreferManual),
		},
		Inspect: InspectConfig{
			Timeout: Duration{inspect.DefaultTimeout},
			Workers: report.DefaultWorkers,
		},
		Output: OutputConfig{Format: "text"},
		Log:    LogConfig{Level: "warn"},
	}
}

// Load reads path over the defaults. A missing file is an error wrapping
// fs.ErrNotExist so callers can decide whether it matters.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i, p := range cfg.Conda.SearchPaths {
		cfg.Conda.SearchPaths[i] = expandHome(p)
	}
	cfg.Conda.Executable = expandHome(cfg.Conda.Executable)
	cfg.CacheFile = expandHome(cfg.CacheFile)
	cfg.History.Path = expandHome(cfg.History.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// MergeFlags applies flags the user set explicitly on top of cfg.
func MergeFlags(cfg *Config, flags *pflag.FlagSet) *Config {
	if v, err := flags.GetString("cache-file"); err == nil && v != "" {
		cfg.CacheFile = v
	}
	if v, err := flags.GetString("conda"); err == nil && v != "" {
		cfg.Conda.Executable = v
	}
	if v, err := flags.GetString("log-level"); err == nil && flags.Changed("log-level") {
		cfg.Log.Level = v
	}
	if v, err := flags.GetString("output"); err == nil && flags.Changed("output") {
		cfg.Output.Format = v
	}
	if v, err := flags.GetBool("show-paths"); err == nil && flags.Changed("show-paths") {
		cfg.Output.ShowPaths = v
	}
	if v, err := flags.GetInt("workers"); err == nil && flags.Changed("workers") {
		cfg.Inspect.Workers = v
	}
	if v, err := flags.GetBool("record"); err == nil && flags.Changed("record") {
		cfg.History.Enabled = v
	}
	return cfg
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("output format must be text or json, got %q", c.Output.Format)
	}
	if _, err := conda.ParsePrecedence(c.Conda.Precedence); err != nil {
		return err
	}
	if c.Inspect.Workers < 1 {
		return fmt.Errorf("inspect workers must be at least 1, got %d", c.Inspect.Workers)
	}
	if c.Inspect.Timeout.Duration < 0 || c.Conda.MaxAge.Duration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// CachePath returns where the cache file lives.
func (c *Config) CachePath() string {
	if c.CacheFile != "" {
		return c.CacheFile
	}
	return filepath.Join(Dir(), cache.FileName)
}

// HistoryPath returns where the run history database lives.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(Dir(), historyFileName)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
