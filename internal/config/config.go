// Package config loads Tabula's configuration from YAML files and
// TABULA_-prefixed environment variables over built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/coregx/tabula/internal/cache"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/pool"
)

// EnvPrefix namespaces the environment variables read by Load:
// TABULA_MAX_IDLE becomes max_idle, and so on.
const EnvPrefix = "TABULA_"

// Config carries everything the client needs to open pools and execute
// queries.
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	// ConnString, when set, overrides the individual connection fields.
	ConnString string `koanf:"conn_string"`

	// Mode is the default execution mode, "sync" or "async".
	Mode string `koanf:"mode"`

	MaxIdle      int           `koanf:"max_idle"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	Retries      int           `koanf:"retries"`
	BackoffBase  time.Duration `koanf:"backoff_base"`
	StmtCacheCap int           `koanf:"stmt_cache_cap"`
	// ReapInterval drives the background reaper; zero disables it.
	ReapInterval time.Duration `koanf:"reap_interval"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Host:         "localhost",
		Port:         5432,
		User:         "postgres",
		Database:     "postgres",
		Mode:         string(driver.ModeSync),
		MaxIdle:      pool.DefaultMaxIdle,
		IdleTimeout:  pool.DefaultIdleTimeout,
		Retries:      engine.DefaultRetries,
		BackoffBase:  engine.DefaultBackoffBase,
		StmtCacheCap: cache.DefaultCapacity,
	}
}

// Load reads the optional YAML file at path, then TABULA_-prefixed
// environment variables, over the defaults. Later sources win.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	def := Default()
	if err := k.Load(confmap.Provider(map[string]any{
		"host":           def.Host,
		"port":           def.Port,
		"user":           def.User,
		"database":       def.Database,
		"mode":           def.Mode,
		"max_idle":       def.MaxIdle,
		"idle_timeout":   def.IdleTimeout,
		"retries":        def.Retries,
		"backoff_base":   def.BackoffBase,
		"stmt_cache_cap": def.StmtCacheCap,
		"reap_interval":  def.ReapInterval,
	}, "."), nil); err != nil {
		return Config{}, errs.Wrap(errs.ErrValidation, err, "load config defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errs.Wrap(errs.ErrValidation, err, fmt.Sprintf("read config file %s", path))
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, errs.Wrap(errs.ErrValidation, err, "load environment variables")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errs.Wrap(errs.ErrValidation, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field combinations the decoder cannot catch.
func (c Config) Validate() error {
	if _, err := driver.ParseMode(c.Mode); err != nil {
		return errs.Wrap(errs.ErrValidation, err, "config mode")
	}
	if c.MaxIdle < 1 {
		return errs.New(errs.ErrValidation, "max_idle must be at least 1")
	}
	if c.Retries < 0 {
		return errs.New(errs.ErrValidation, "retries cannot be negative")
	}
	if c.IdleTimeout < 0 || c.BackoffBase < 0 || c.ReapInterval < 0 {
		return errs.New(errs.ErrValidation, "durations cannot be negative")
	}
	if c.ConnString != "" {
		if _, err := driver.ParseDSN(c.ConnString); err != nil {
			return errs.Wrap(errs.ErrValidation, err, "conn_string")
		}
	}
	return nil
}

// DefaultMode returns the parsed execution mode.
func (c Config) DefaultMode() driver.Mode {
	m, err := driver.ParseMode(c.Mode)
	if err != nil {
		return driver.ModeSync
	}
	return m
}

// ConnInfo resolves the connection fields, with ConnString taking
// precedence over the discrete ones.
func (c Config) ConnInfo() (driver.ConnInfo, error) {
	if c.ConnString != "" {
		info, err := driver.ParseDSN(c.ConnString)
		if err != nil {
			return driver.ConnInfo{}, errs.Wrap(errs.ErrValidation, err, "conn_string")
		}
		return info, nil
	}
	return driver.ConnInfo{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
	}, nil
}
