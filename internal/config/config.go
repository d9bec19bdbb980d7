// Package config provides configuration management for imagepipe using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The optimizer's source directories used to be a hardcoded list inside
// the build script; they are now an explicit setting with the villa
// folders as the default, so tests and one-off runs can point the
// optimizer at any directory.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/villaretreat/imagepipe/internal/errors"
	"github.com/villaretreat/imagepipe/internal/logging"
	"github.com/villaretreat/imagepipe/internal/validation"
)

// DefaultDirectories are the villa photo folders the site ships with.
var DefaultDirectories = []string{
	"public/AmrithPalace",
	"public/eastcoastvilla",
	"public/empireanandvillasamudra",
	"public/ramwatervilla",
	"public/LavishVilla 1",
	"public/LavishVilla 2",
	"public/LavishVilla 3",
}

const (
	DefaultPort     = 8080
	DefaultHost     = "localhost"
	DefaultRoot     = "."
	DefaultDebounce = 300 * time.Millisecond
)

type Config struct {
	Optimizer OptimizerConfig `mapstructure:"optimizer" yaml:"optimizer"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type OptimizerConfig struct {
	Directories []string `mapstructure:"directories" yaml:"directories"`
	// Concurrency caps simultaneous encodes. Zero means unbounded.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Root is the directory that public URLs are resolved against.
	Root string `mapstructure:"root" yaml:"root"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every key on v. Keys viper does not know about
// are invisible to AutomaticEnv, so this is what makes
// IMAGEPIPE_SERVER_PORT and friends work without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("optimizer.directories", append([]string(nil), DefaultDirectories...))
	v.SetDefault("optimizer.concurrency", 0)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.root", DefaultRoot)
	v.SetDefault("watch.debounce", DefaultDebounce)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the global viper instance into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v into a validated Config with defaults applied.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// viper leaves slices empty when they come from a single env var
	if len(cfg.Optimizer.Directories) == 0 && v.IsSet("optimizer.directories") {
		cfg.Optimizer.Directories = v.GetStringSlice("optimizer.directories")
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Optimizer.Directories) == 0 {
		cfg.Optimizer.Directories = append([]string(nil), DefaultDirectories...)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Root == "" {
		cfg.Server.Root = DefaultRoot
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks configuration values for correctness.
func Validate(cfg *Config) error {
	if len(cfg.Optimizer.Directories) == 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "optimizer.directories is empty")
	}
	for _, dir := range cfg.Optimizer.Directories {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("optimizer directory: %w", err)
		}
	}
	if cfg.Optimizer.Concurrency < 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("optimizer.concurrency %d must not be negative", cfg.Optimizer.Concurrency))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("port %d is not in valid range 0-65535", cfg.Server.Port))
	}
	if err := validation.ValidateHost(cfg.Server.Host); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("log.format %q must be text or json", cfg.Log.Format))
	}
	return nil
}

// validatePath wraps path failures in the typed invalid-path error.
func validatePath(path string) error {
	if err := validation.ValidatePath(path); err != nil {
		return errors.ErrInvalidPath(path, err.Error())
	}
	return nil
}

// LoggerConfig converts the log section into a logging.LoggerConfig.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = lvl
	}
	lc.Format = c.Log.Format
	return lc
}

// Addr returns host:port for the preview server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
