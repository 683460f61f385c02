// Package config loads prune's settings from defaults, an optional YAML
// file, PRUNE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the target directory.
const FileName = ".prune.yaml"

// Sentinel validation errors.
var (
	ErrInvalidFormat       = errors.New("invalid output format")
	ErrInvalidIterations   = errors.New("max iterations must be positive")
	ErrInvalidWorkers      = errors.New("workers must not be negative")
	ErrInvalidFileSize     = errors.New("invalid max file size")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrInvalidSubstitution = errors.New("substitution must be key=value")
)

// Default configuration values.
const (
	DefaultMaxIterations = 1000
	DefaultMaxFileSize   = "1MB"
	DefaultFormat        = "toon"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Output formats.
const (
	FormatTOON = "toon"
	FormatDiff = "diff"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"language":       "language",
	"rules":          "rules",
	"max-iterations": "max_iterations",
	"workers":        "workers",
	"max-file-size":  "max_file_size",
	"exclude-tests":  "exclude_tests",
	"dry-run":        "dry_run",
	"format":         "format",
	"color":          "color",
	"metrics-file":   "metrics_file",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
}

// Config holds every setting of a run.
type Config struct {
	Language      string            `mapstructure:"language"`
	Rules         string            `mapstructure:"rules"`
	Substitutions map[string]string `mapstructure:"substitutions"`
	MaxIterations int               `mapstructure:"max_iterations"`
	Workers       int               `mapstructure:"workers"`
	MaxFileSize   string            `mapstructure:"max_file_size"`
	ExcludeTests  bool              `mapstructure:"exclude_tests"`
	DryRun        bool              `mapstructure:"dry_run"`
	Format        string            `mapstructure:"format"`
	Color         bool              `mapstructure:"color"`
	MetricsFile   string            `mapstructure:"metrics_file"`
	Logging       LoggingConfig     `mapstructure:"logging"`

	maxFileBytes uint64
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MaxFileBytes returns MaxFileSize in bytes.
func (c *Config) MaxFileBytes() uint64 {
	return c.maxFileBytes
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	// Validated by Load.
	_ = l.UnmarshalText([]byte(c.Logging.Level))
	return l
}

// Load resolves the configuration. configPath names an explicit file; when
// empty, FileName is looked up in dir and may be absent. Flags that were set
// on the command line take precedence over everything else, and repeated
// --set key=value flags are layered over the substitutions.
func Load(configPath, dir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("PRUNE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flags != nil {
		if err := applySet(&cfg, flags); err != nil {
			return nil, err
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("language", "")
	v.SetDefault("rules", "")
	v.SetDefault("substitutions", map[string]string{})
	v.SetDefault("max_iterations", DefaultMaxIterations)
	v.SetDefault("workers", 0)
	v.SetDefault("max_file_size", DefaultMaxFileSize)
	v.SetDefault("exclude_tests", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("format", DefaultFormat)
	v.SetDefault("color", false)
	v.SetDefault("metrics_file", "")

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

func applySet(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Lookup("set") == nil {
		return nil
	}
	pairs, err := flags.GetStringArray("set")
	if err != nil {
		return fmt.Errorf("reading --set: %w", err)
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("%w: %q", ErrInvalidSubstitution, pair)
		}
		if cfg.Substitutions == nil {
			cfg.Substitutions = make(map[string]string)
		}
		cfg.Substitutions[key] = value
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.MaxIterations <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, cfg.MaxIterations)
	}

	if cfg.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, cfg.Workers)
	}

	size, err := humanize.ParseBytes(cfg.MaxFileSize)
	if err != nil || size == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidFileSize, cfg.MaxFileSize)
	}
	cfg.maxFileBytes = size

	switch cfg.Format {
	case FormatTOON, FormatDiff:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, cfg.Format)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Logging.Format)
	}
	return nil
}
