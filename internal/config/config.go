// Package config loads falsifierctl settings from YAML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting falsifierctl reads before a run.
type Config struct {
	// Run holds campaign defaults; flags override them per invocation.
	Run RunConfig `json:"run" yaml:"run"`

	Storage StorageConfig `json:"storage" yaml:"storage"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`

	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type RunConfig struct {
	Workers int `json:"workers" yaml:"workers"`
	// Rounds is the number of rounds each worker runs.
	Rounds          int     `json:"rounds" yaml:"rounds"`
	FalsifyBelow    float64 `json:"falsify_below" yaml:"falsify_below"`
	StopOnFalsified bool    `json:"stop_on_falsified" yaml:"stop_on_falsified"`

	// MaxSteps caps each simulation; 0 keeps the simulator's own limit.
	MaxSteps      int `json:"max_steps" yaml:"max_steps"`
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	Verbosity     int `json:"verbosity" yaml:"verbosity"`
}

type StorageConfig struct {
	// Backend is "memory" or "sqlite". sqlite needs a build with -tags sqlite.
	Backend      string `json:"backend" yaml:"backend"`
	SQLitePath   string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	ArtifactsDir string `json:"artifacts_dir,omitempty" yaml:"artifacts_dir,omitempty"`
}

type LoggingConfig struct {
	// Level is one of "info", "debug" or "trace".
	Level string `json:"level" yaml:"level"`
	// Format is "auto", "text" or "json". auto picks text on a terminal.
	Format string `json:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves Prometheus metrics when set, e.g. ":9090".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

func Default() *Config {
	return &Config{
		Run: RunConfig{
			Workers:       1,
			Rounds:        50,
			FalsifyBelow:  0,
			MaxIterations: 1,
		},
		Storage: StorageConfig{
			Backend:      "memory",
			SQLitePath:   "falsifier.db",
			ArtifactsDir: "falsifier_runs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultPath is ~/.falsifier/config.yaml, or "" when the home directory is
// unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".falsifier", "config.yaml")
}

// Load reads path, or the default location when path is empty, then applies
// FALSIFIER_* environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil || explicit {
			fileCfg, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			cfg = fileCfg
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Storage.SQLitePath = expandEnvVars(cfg.Storage.SQLitePath)
	cfg.Storage.ArtifactsDir = expandEnvVars(cfg.Storage.ArtifactsDir)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Run.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Run.Workers)
	}
	if c.Run.Rounds < 1 {
		return fmt.Errorf("rounds must be >= 1, got %d", c.Run.Rounds)
	}
	if c.Run.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative, got %d", c.Run.MaxSteps)
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return fmt.Errorf("sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: memory, sqlite)", c.Storage.Backend)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	validFormats := map[string]bool{"auto": true, "text": true, "json": true}
	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: auto, text, json)", c.Logging.Format)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	intVars := map[string]*int{
		"FALSIFIER_WORKERS":        &cfg.Run.Workers,
		"FALSIFIER_ROUNDS":         &cfg.Run.Rounds,
		"FALSIFIER_MAX_STEPS":      &cfg.Run.MaxSteps,
		"FALSIFIER_MAX_ITERATIONS": &cfg.Run.MaxIterations,
		"FALSIFIER_VERBOSITY":      &cfg.Run.Verbosity,
	}
	for name, dst := range intVars {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("FALSIFIER_FALSIFY_BELOW"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FALSIFIER_FALSIFY_BELOW: %w", err)
		}
		cfg.Run.FalsifyBelow = f
	}
	if v := os.Getenv("FALSIFIER_STOP_ON_FALSIFIED"); v != "" {
		cfg.Run.StopOnFalsified = v == "true" || v == "1"
	}

	if v := os.Getenv("FALSIFIER_STORE"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FALSIFIER_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("FALSIFIER_ARTIFACTS_DIR"); v != "" {
		cfg.Storage.ArtifactsDir = v
	}
	if v := os.Getenv("FALSIFIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FALSIFIER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FALSIFIER_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
