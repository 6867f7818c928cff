// Package config loads the optional .soak YAML file and turns it, together
// with environment overrides, into the immutable settings of a run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file.
const FileName = ".soak"

// Default values.
const (
	DefaultTrials     = 100
	DefaultParallel   = 1
	DefaultMaxOutput  = 64 << 10 // 64 KiB per trial
	DefaultResultsDir = ".soak-runs"
)

// Config holds the parsed .soak configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version       int      `yaml:"version"`
	RawTrials     *int     `yaml:"trials"` // nil means DefaultTrials; 0 is a valid count
	Command       []string `yaml:"command"`
	Dir           string   `yaml:"dir"`     // working directory of the target, relative to the config root
	RawTimeout    string   `yaml:"timeout"` // e.g. "30s"; empty means no timeout
	RawParallel   int      `yaml:"parallel"`
	ExitZero      bool     `yaml:"exit_zero"`  // exit 0 even when trials failed
	RawMaxOutput  int      `yaml:"max_output"` // bytes
	RawResultsDir string   `yaml:"results_dir"`
	MetricsAddr   string   `yaml:"metrics_addr"` // e.g. ":9090"; empty disables /metrics
}

// TrialCount returns the configured number of trials or the default.
func (c *Config) TrialCount() int {
	if c.RawTrials != nil {
		return *c.RawTrials
	}
	return DefaultTrials
}

// SetTrials overrides the trial count.
func (c *Config) SetTrials(n int) {
	c.RawTrials = &n
}

// Timeout returns the configured per-trial timeout, or zero for none.
// An unparsable value is reported by RunConfig, not here.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// Parallel returns the configured number of concurrent trials or the default.
func (c *Config) Parallel() int {
	if c.RawParallel > 0 {
		return c.RawParallel
	}
	return DefaultParallel
}

// MaxOutputBytes returns the configured per-trial output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ResultsDir returns the directory run records are written to, resolved
// against root when relative.
func (c *Config) ResultsDir(root string) string {
	dir := c.RawResultsDir
	if dir == "" {
		dir = DefaultResultsDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// Environment variables read by ApplyEnv.
const (
	EnvTrials   = "SOAK_TRIALS"
	EnvTimeout  = "SOAK_TIMEOUT"
	EnvParallel = "SOAK_PARALLEL"
	EnvCommand  = "SOAK_COMMAND" // whitespace-separated argv
)

// ApplyEnv overrides fields from SOAK_* environment variables looked up
// through getenv. Unset or empty variables leave the field untouched.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvTrials); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: EnvTrials, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		c.SetTrials(n)
	}
	if v := getenv(EnvTimeout); v != "" {
		c.RawTimeout = v
	}
	if v := getenv(EnvParallel); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: EnvParallel, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		c.RawParallel = n
	}
	if v := getenv(EnvCommand); v != "" {
		c.Command = strings.Fields(v)
	}
	return nil
}

// RunConfig is the validated, immutable configuration of one soak run.
type RunConfig struct {
	Trials    int
	Command   []string
	Dir       string
	Timeout   time.Duration // zero means none
	Parallel  int
	MaxOutput int
	ExitZero  bool
}

// RunConfig validates c and resolves it into a RunConfig. root is the
// directory relative paths are resolved against.
func (c *Config) RunConfig(root string) (RunConfig, error) {
	rc := RunConfig{
		Trials:    c.TrialCount(),
		Command:   append([]string(nil), c.Command...),
		Dir:       root,
		Timeout:   c.Timeout(),
		Parallel:  c.Parallel(),
		MaxOutput: c.MaxOutputBytes(),
		ExitZero:  c.ExitZero,
	}
	if c.Dir != "" {
		if filepath.IsAbs(c.Dir) {
			rc.Dir = filepath.Clean(c.Dir)
		} else {
			rc.Dir = filepath.Join(root, c.Dir)
		}
	}
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err != nil {
			return RunConfig{}, &ValidationError{Field: "timeout", Reason: err.Error()}
		}
		if d < 0 {
			return RunConfig{}, &ValidationError{Field: "timeout", Reason: "must not be negative"}
		}
	}
	if c.RawParallel < 0 {
		return RunConfig{}, &ValidationError{Field: "parallel", Reason: "must be at least 1"}
	}
	if err := rc.Validate(); err != nil {
		return RunConfig{}, err
	}
	return rc, nil
}

// Validate checks the invariants of a run configuration.
func (rc RunConfig) Validate() error {
	switch {
	case rc.Trials < 0:
		return &ValidationError{Field: "trials", Reason: "must not be negative"}
	case len(rc.Command) == 0 || rc.Command[0] == "":
		return &ValidationError{Field: "command", Reason: "no command configured"}
	case rc.Parallel < 1:
		return &ValidationError{Field: "parallel", Reason: "must be at least 1"}
	case rc.Timeout < 0:
		return &ValidationError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LoadResult holds the parsed config and where it was found.
type LoadResult struct {
	Config *Config
	Root   string // directory holding the .soak file; falls back to workspace
	Path   string // path of the .soak file, empty if none was found
}

// Load reads the .soak file closest to workspace, walking upward. If no
// file exists, a default Config rooted at workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	path, err := findConfig(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LoadResult{Config: &Config{}, Root: abs}, nil
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Root: filepath.Dir(path), Path: path}, nil
}

// findConfig walks upward from dir looking for a .soak file.
func findConfig(dir string) (string, error) {
	for {
		path := filepath.Join(dir, FileName)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found: %w", FileName, os.ErrNotExist)
		}
		dir = parent
	}
}
