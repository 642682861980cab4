package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syssam/velomigrate/store"
)

// Config holds the configuration of one velomigrate run.
// Configuration comes from a YAML file; environment variables override the
// scalar values that support them. Store URLs usually carry credentials, so
// they are best passed through the environment.
type Config struct {
	// Model is the path of the YAML model file. A relative path is
	// resolved against the directory of the config file.
	Model string `yaml:"model" env:"VELOMIGRATE_MODEL"`

	Source      StoreConfig `yaml:"source" env-prefix:"VELOMIGRATE_SOURCE_"`
	Destination StoreConfig `yaml:"destination" env-prefix:"VELOMIGRATE_DESTINATION_"`

	// Steps run in order between Begin and End.
	Steps []Step `yaml:"steps"`

	Log LogConfig `yaml:"log" env-prefix:"VELOMIGRATE_LOG_"`
}

// StoreConfig locates one store.
type StoreConfig struct {
	URL string `yaml:"url" env:"URL"`
	// Debug logs every statement the store runs (sqlstore).
	Debug bool `yaml:"debug" env:"DEBUG"`
	// Options are passed to the store driver as is.
	Options store.Options `yaml:"options"`
}

// StoreOptions returns the driver options of the store, with Debug merged
// in.
func (s StoreConfig) StoreOptions() store.Options {
	opts := s.Options.Clone()
	if s.Debug {
		opts[store.Debug] = true
	}
	return opts
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"FORMAT" env-default:"console"`
}

// Logger builds the zap logger described by the settings: a production
// JSON logger for format json, a development console logger otherwise.
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	if l.Format == "json" {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Step operations.
const (
	OpSnip    = "snip"
	OpMigrate = "migrate"
	OpStitch  = "stitch"
)

// Step is one migrator call.
type Step struct {
	Op           string `yaml:"op"`
	Entity       string `yaml:"entity"`
	Relationship string `yaml:"relationship"`
	// BatchSize is the window size of a migrate step.
	BatchSize int `yaml:"batch_size"`
	// Save commits after every window (migrate) or after the stitch.
	// Defaults to true.
	Save *bool `yaml:"save"`
}

// DefaultBatchSize is the window size of migrate steps without batch_size.
const DefaultBatchSize = 500

// Saves reports if the step commits its work.
func (s Step) Saves() bool {
	return s.Save == nil || *s.Save
}

// String returns a short description of the step.
func (s Step) String() string {
	switch s.Op {
	case OpMigrate:
		return fmt.Sprintf("%s %s", s.Op, s.Entity)
	default:
		return fmt.Sprintf("%s %s.%s", s.Op, s.Entity, s.Relationship)
	}
}

// Load reads the configuration file at path with environment variable
// overrides, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if cfg.Model != "" && !filepath.IsAbs(cfg.Model) {
		cfg.Model = filepath.Join(filepath.Dir(path), cfg.Model)
	}
	for i := range cfg.Steps {
		cfg.Steps[i].Op = strings.ToLower(strings.TrimSpace(cfg.Steps[i].Op))
		if cfg.Steps[i].Op == OpMigrate && cfg.Steps[i].BatchSize == 0 {
			cfg.Steps[i].BatchSize = DefaultBatchSize
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is complete. Entity and
// relationship names are checked against the model by the migrator.
func (c *Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if c.Destination.URL == "" {
		errs = append(errs, errors.New("destination.url is required"))
	}
	if c.Source.URL != "" && c.Source.URL == c.Destination.URL {
		errs = append(errs, errors.New("source and destination must be different stores"))
	}
	if len(c.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	for i, s := range c.Steps {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (s Step) validate() error {
	if s.Entity == "" {
		return errors.New("entity is required")
	}
	switch s.Op {
	case OpMigrate:
		if s.BatchSize < 1 {
			return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
		}
	case OpSnip, OpStitch:
		if s.Relationship == "" {
			return fmt.Errorf("%s step requires a relationship", s.Op)
		}
	case "":
		return errors.New("op is required")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}
