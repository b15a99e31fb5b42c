// Package config loads sigid configuration.
//
// Configuration is read from a single YAML file named by the SIGID_CONFIG
// environment variable or the --config flag. Values missing from the file
// keep their defaults. Paths may use ${VAR} and ${VAR:-default}.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/identify"
	"github.com/FocuswithJustin/sigid/core/scheduler"
	"github.com/FocuswithJustin/sigid/internal/logging"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "SIGID_CONFIG"

// Config is the complete sigid configuration.
type Config struct {
	Signatures     SignaturesConfig     `yaml:"signatures"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Identification IdentificationConfig `yaml:"identification"`
	Source         SourceConfig         `yaml:"source"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// SignaturesConfig locates the signature catalog.
type SignaturesConfig struct {
	// Path is a DROID signature file, or a YAML catalog ending in .yaml.
	Path string `yaml:"path"`
}

// SchedulerConfig sizes the identification worker pool.
type SchedulerConfig struct {
	CoreWorkers   int `yaml:"core_workers"`
	MaxWorkers    int `yaml:"max_workers"`
	QueueCapacity int `yaml:"queue_capacity"`
	// IdleTimeout is a Go duration, e.g. "30s".
	IdleTimeout string `yaml:"idle_timeout"`
}

// IdentificationConfig controls how each resource is evaluated.
type IdentificationConfig struct {
	// MaxMatches of 0 means unlimited.
	MaxMatches int `yaml:"max_matches"`
	// MaxBytesToScan of 0 or less scans whole resources.
	MaxBytesToScan int64 `yaml:"max_bytes_to_scan"`
	// Extensions is none, tentative or all.
	Extensions string `yaml:"extensions"`
	// Hash computes a BLAKE3 digest of every resource.
	Hash bool `yaml:"hash"`
	// Decompress identifies the content of .gz, .xz, .zst and .lz4 files.
	Decompress bool `yaml:"decompress"`
}

// SourceConfig tunes byte source buffering.
type SourceConfig struct {
	WindowSize     int   `yaml:"window_size"`
	CachedWindows  int   `yaml:"cached_windows"`
	SpoolThreshold int64 `yaml:"spool_threshold"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	sched := scheduler.DefaultConfig()
	src := bytesource.DefaultOptions()
	return &Config{
		Scheduler: SchedulerConfig{
			CoreWorkers:   sched.CoreWorkers,
			MaxWorkers:    sched.MaxWorkers,
			QueueCapacity: sched.QueueCapacity,
			IdleTimeout:   sched.IdleTimeout.String(),
		},
		Identification: IdentificationConfig{
			Extensions: identify.ExtensionsNone.String(),
		},
		Source: SourceConfig{
			WindowSize:     src.WindowSize,
			CachedWindows:  src.CachedWindows,
			SpoolThreshold: src.SpoolThreshold,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the file named by SIGID_CONFIG. When the
// variable is unset the defaults are returned.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, &errors.ParseError{Format: "config", Path: path, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Signatures.Path = expandVars(c.Signatures.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[2]
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.SchedulerConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Identification.MaxMatches < 0 {
		errs = append(errs, errors.NewValidation("identification.max_matches", "must not be negative"))
	}
	if _, err := identify.ParseExtensionMode(c.Identification.Extensions); err != nil {
		errs = append(errs, errors.NewValidation("identification.extensions", fmt.Sprintf("must be one of %v", extensionModes)))
	}
	if c.Source.WindowSize < 0 || c.Source.CachedWindows < 0 || c.Source.SpoolThreshold < 0 {
		errs = append(errs, errors.NewValidation("source", "sizes must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, errors.NewValidation("logging.level", err.Error()))
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, errors.NewValidation("logging.format", err.Error()))
	}

	return errors.Join(errs...)
}

var extensionModes = []string{"none", "tentative", "all"}

// SchedulerConfig converts the scheduler section.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	idle := time.Duration(0)
	if c.Scheduler.IdleTimeout != "" {
		d, err := time.ParseDuration(c.Scheduler.IdleTimeout)
		if err != nil {
			return scheduler.Config{}, errors.NewValidation("scheduler.idle_timeout", err.Error())
		}
		idle = d
	}
	sc := scheduler.Config{
		CoreWorkers:   c.Scheduler.CoreWorkers,
		MaxWorkers:    c.Scheduler.MaxWorkers,
		QueueCapacity: c.Scheduler.QueueCapacity,
		IdleTimeout:   idle,
	}
	if err := sc.Validate(); err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			verr.Field = "scheduler." + verr.Field
		}
		return scheduler.Config{}, err
	}
	return sc, nil
}

// IdentifyOptions converts the identification section.
func (c *Config) IdentifyOptions() (identify.Options, error) {
	mode, err := identify.ParseExtensionMode(c.Identification.Extensions)
	if err != nil {
		return identify.Options{}, err
	}
	return identify.Options{
		MaxMatches:     c.Identification.MaxMatches,
		MaxBytesToScan: c.Identification.MaxBytesToScan,
		Extensions:     mode,
	}, nil
}

// SourceOptions converts the source section. Zero sizes take defaults.
func (c *Config) SourceOptions() bytesource.Options {
	return bytesource.Options{
		WindowSize:     c.Source.WindowSize,
		CachedWindows:  c.Source.CachedWindows,
		SpoolThreshold: c.Source.SpoolThreshold,
	}
}
