// Package config provides configuration management for usersync.
// It supports YAML and TOML configuration files, environment variables, and
// sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/klauern/usersync/internal/remote"
	"github.com/klauern/usersync/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "USERSYNC_"

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Output formats accepted by Output.Format.
var Formats = []string{"table", "json", "yaml", "cards"}

// Config represents the complete usersync configuration.
type Config struct {
	// Remote configures the HTTP source of the user collection
	Remote RemoteConfig `yaml:"remote" json:"remote" toml:"remote" envPrefix:"REMOTE_"`

	// Cache configures the local cache store
	Cache CacheConfig `yaml:"cache" json:"cache" toml:"cache" envPrefix:"CACHE_"`

	// Delivery configures where results are handed to the presentation layer
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery" toml:"delivery" envPrefix:"DELIVERY_"`

	// Sync configures the orchestrator
	Sync SyncConfig `yaml:"sync" json:"sync" toml:"sync" envPrefix:"SYNC_"`

	// Output configures display preferences
	Output OutputConfig `yaml:"output" json:"output" toml:"output" envPrefix:"OUTPUT_"`

	// Telemetry configures trace export
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
}

// RemoteConfig holds remote source settings.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url" toml:"base_url" env:"BASE_URL"`
	UsersPath      string        `yaml:"users_path" json:"users_path" toml:"users_path" env:"USERS_PATH"`
	MediaBaseURL   string        `yaml:"media_base_url" json:"media_base_url" toml:"media_base_url" env:"MEDIA_BASE_URL"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty" toml:"user_agent,omitempty" env:"USER_AGENT"`
	MediaUserAgent string        `yaml:"media_user_agent,omitempty" json:"media_user_agent,omitempty" toml:"media_user_agent,omitempty" env:"MEDIA_USER_AGENT"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" toml:"timeout" env:"TIMEOUT"`
}

// CacheConfig holds cache store settings.
type CacheConfig struct {
	// Backend is one of file, sqlite or memory
	Backend string `yaml:"backend" json:"backend" toml:"backend" env:"BACKEND"`
	// Location is the cache directory path
	Location string `yaml:"location" json:"location" toml:"location" env:"LOCATION"`
	// Key is the logical collection key
	Key string `yaml:"key" json:"key" toml:"key" env:"KEY"`
}

// DeliveryConfig holds delivery context settings.
type DeliveryConfig struct {
	// Enabled hands every result to the designated context
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled" env:"ENABLED"`
}

// SyncConfig holds orchestrator settings.
type SyncConfig struct {
	// SerializeCalls runs whole repository calls one at a time
	SerializeCalls bool `yaml:"serialize_calls" json:"serialize_calls" toml:"serialize_calls" env:"SERIALIZE_CALLS"`
}

// OutputConfig holds display preferences.
type OutputConfig struct {
	// Format is the default output format (table, json, yaml, cards)
	Format string `yaml:"format" json:"format" toml:"format" env:"FORMAT"`
	// Color controls color output (auto, always, never)
	Color string `yaml:"color" json:"color" toml:"color" env:"COLOR"`
	// Verbose enables verbose output
	Verbose bool `yaml:"verbose" json:"verbose" toml:"verbose" env:"VERBOSE"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port; empty disables export
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint,omitempty" env:"ENDPOINT"`
	// Insecure disables TLS towards the collector
	Insecure bool `yaml:"insecure" json:"insecure" toml:"insecure" env:"INSECURE"`
	// ServiceName is reported as service.name
	ServiceName string `yaml:"service_name" json:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:      remote.DefaultBaseURL,
			UsersPath:    remote.DefaultUsersPath,
			MediaBaseURL: remote.DefaultMediaBaseURL,
			Timeout:      remote.DefaultTimeout,
		},
		Cache: CacheConfig{
			Backend:  BackendFile,
			Location: util.UsersyncCachePath(),
			Key:      "users",
		},
		Delivery: DeliveryConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Format: "table",
			Color:  "auto",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "usersync",
		},
	}
}

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(util.UsersyncHome(), configFileName)
}

// Load loads the configuration from file, merging with defaults.
// If the config file doesn't exist, returns default configuration.
func Load() (*Config, error) {
	cfg := Default()

	configPath := FilePath()
	if err := cfg.decodeFile(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path. Files ending in
// .toml are decoded as TOML, anything else as YAML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	// #nosec G304 - path is provided by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration to the config file.
func (c *Config) Save() error {
	return c.SaveToPath(FilePath())
}

// SaveToPath writes the configuration to a specific path.
func (c *Config) SaveToPath(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// #nosec G306 - config file should be readable by user
	return os.WriteFile(path, data, 0o644)
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern USERSYNC_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports settings that cannot be acted upon.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite:
		if strings.TrimSpace(c.Cache.Location) == "" {
			errs = append(errs, fmt.Errorf("cache.location is required for the %s backend", c.Cache.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if !slices.Contains(Formats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output.Format))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, errors.New("remote.timeout must not be negative"))
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	}
	return errors.Join(errs...)
}

// CacheDir returns the cache location with ~ expanded.
func (c *Config) CacheDir() string {
	return util.ExpandPath(c.Cache.Location)
}

// RemoteOptions converts the remote section to source options.
func (c *Config) RemoteOptions() remote.Options {
	opts := remote.DefaultOptions()
	opts.BaseURL = c.Remote.BaseURL
	opts.UsersPath = c.Remote.UsersPath
	opts.MediaBaseURL = c.Remote.MediaBaseURL
	if c.Remote.UserAgent != "" {
		opts.UserAgent = c.Remote.UserAgent
	}
	if c.Remote.MediaUserAgent != "" {
		opts.MediaUserAgent = c.Remote.MediaUserAgent
	}
	if c.Remote.Timeout > 0 {
		opts.Timeout = c.Remote.Timeout
	}
	return opts
}

// Exists returns true if a config file exists.
func Exists() bool {
	_, err := os.Stat(FilePath())
	return err == nil
}
