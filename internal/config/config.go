// Package config loads ormso settings.
//
// Sources are applied in order, later ones winning:
//
//  1. built-in defaults
//  2. the YAML file given to Load, if any
//  3. ORMSO_* variables from a .env file, if present
//  4. ORMSO_* variables from the process environment
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ormso/internal/querysql"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORMSO_"

// DefaultEnvFile is read when no other .env path is configured.
const DefaultEnvFile = ".env"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete ormso configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Schema   SchemaConfig   `yaml:"schema"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allowOrigins"`
}

// RemoteConfig configures the sync transport. Relative sync URLs in the
// schema are resolved against BaseURL.
type RemoteConfig struct {
	BaseURL string            `yaml:"baseUrl"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`

	// MaxBodySize caps a response body in bytes. Zero uses the client
	// default.
	MaxBodySize int64 `yaml:"maxBodySize"`
}

type SyncConfig struct {
	// Interval between sweeps of the serve command. Zero disables the
	// periodic sync.
	Interval time.Duration `yaml:"interval"`
}

type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "ormso.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Remote:   RemoteConfig{Timeout: 30 * time.Second},
		Sync:     SyncConfig{Interval: 5 * time.Minute},
		Schema:   SchemaConfig{Dir: "schema"},
		Log:      LogConfig{Level: "info"},
	}
}

type loadOptions struct {
	envFile string
	lookup  func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile reads overrides from path instead of DefaultEnvFile. An empty
// path disables the .env file.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithLookup replaces os.LookupEnv.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) {
		o.lookup = lookup
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is not an error. The result is not validated.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{envFile: DefaultEnvFile, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			if err := decoder.Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	dotenv := map[string]string{}
	if o.envFile != "" {
		m, err := godotenv.Read(o.envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", o.envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := o.lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DB_DRIVER":       &c.Database.Driver,
		"DB_DSN":          &c.Database.DSN,
		"HTTP_ADDR":       &c.HTTP.Addr,
		"REMOTE_BASE_URL": &c.Remote.BaseURL,
		"SCHEMA_DIR":      &c.Schema.Dir,
		"LOG_LEVEL":       &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REMOTE_TIMEOUT": &c.Remote.Timeout,
		"SYNC_INTERVAL":  &c.Sync.Interval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup("HTTP_ALLOW_ORIGINS"); ok {
		c.HTTP.AllowOrigins = splitList(v)
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := querysql.DialectFor(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is empty"))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, errors.New("remote.timeout is negative"))
	}
	if c.Remote.MaxBodySize < 0 {
		errs = append(errs, errors.New("remote.maxBodySize is negative"))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval is negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
