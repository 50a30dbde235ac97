// Package config loads article-goat configuration from defaults, an optional
// YAML file and AG_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for article-goat
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Redis     RedisConfig     `yaml:"redis"`
	Publish   PublishConfig   `yaml:"publish"`
	Redirect  RedirectConfig  `yaml:"redirect"`
	AutoPilot AutoPilotConfig `yaml:"autopilot"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AdminToken     string   `yaml:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig selects where sticky assignments live.
type SessionsConfig struct {
	Backend    string        `yaml:"backend"` // memory or redis
	MemorySize int           `yaml:"memory_size"`
	TTL        time.Duration `yaml:"ttl"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PublishConfig holds artifact upload configuration
type PublishConfig struct {
	Backend         string        `yaml:"backend"` // file or gcs
	Dir             string        `yaml:"dir"`
	BaseURL         string        `yaml:"base_url"`
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	Attempts        int           `yaml:"attempts"`
	Backoff         time.Duration `yaml:"backoff"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
}

type RedirectConfig struct {
	Host string `yaml:"host"`
}

// AutoPilotConfig holds the optimizer schedule and reallocation policy
type AutoPilotConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	WinnerShare float64       `yaml:"winner_share"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./agt.db",
		},
		Sessions: SessionsConfig{
			Backend:    "memory",
			MemorySize: 100_000,
			TTL:        30 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Publish: PublishConfig{
			Backend:        "file",
			Dir:            "./artifacts",
			Attempts:       4,
			Backoff:        250 * time.Millisecond,
			AttemptTimeout: 10 * time.Second,
		},
		AutoPilot: AutoPilotConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			Concurrency: 4,
			WinnerShare: 90,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) decodeYAML(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString("AG_HOST", &c.Server.Host)
	errs = append(errs, setInt("AG_PORT", &c.Server.Port))
	setString("AG_ADMIN_TOKEN", &c.Server.AdminToken)
	setList("AG_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	setString("AG_DB_PATH", &c.Database.Path)

	setString("AG_SESSION_BACKEND", &c.Sessions.Backend)
	errs = append(errs, setInt("AG_SESSION_MEMORY_SIZE", &c.Sessions.MemorySize))
	errs = append(errs, setDuration("AG_SESSION_TTL", &c.Sessions.TTL))

	setString("AG_REDIS_ADDRESS", &c.Redis.Address)
	setString("AG_REDIS_PASSWORD", &c.Redis.Password)
	errs = append(errs, setInt("AG_REDIS_DB", &c.Redis.DB))

	setString("AG_PUBLISH_BACKEND", &c.Publish.Backend)
	setString("AG_PUBLISH_DIR", &c.Publish.Dir)
	setString("AG_PUBLISH_BASE_URL", &c.Publish.BaseURL)
	setString("AG_GCS_BUCKET", &c.Publish.Bucket)
	setString("AG_GCS_CREDENTIALS", &c.Publish.CredentialsFile)
	errs = append(errs, setInt("AG_PUBLISH_ATTEMPTS", &c.Publish.Attempts))

	setString("AG_REDIRECT_HOST", &c.Redirect.Host)

	errs = append(errs, setBool("AG_AUTOPILOT_ENABLED", &c.AutoPilot.Enabled))
	errs = append(errs, setDuration("AG_AUTOPILOT_INTERVAL", &c.AutoPilot.Interval))
	errs = append(errs, setInt("AG_AUTOPILOT_CONCURRENCY", &c.AutoPilot.Concurrency))
	errs = append(errs, setFloat("AG_WINNER_SHARE", &c.AutoPilot.WinnerShare))

	setString("AG_LOG_LEVEL", &c.Log.Level)
	setString("AG_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Sessions.Backend {
	case "memory":
		if c.Sessions.MemorySize <= 0 {
			return fmt.Errorf("session memory size must be positive")
		}
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}

	switch c.Publish.Backend {
	case "file":
		if c.Publish.Dir == "" {
			return fmt.Errorf("publish dir is required for the file backend")
		}
	case "gcs":
		if c.Publish.Bucket == "" {
			return fmt.Errorf("GCS bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown publish backend %q", c.Publish.Backend)
	}
	if c.Publish.Attempts < 1 {
		return fmt.Errorf("publish attempts must be at least 1")
	}

	if c.AutoPilot.WinnerShare <= 0 || c.AutoPilot.WinnerShare > 100 {
		return fmt.Errorf("winner share must be in (0, 100], got %v", c.AutoPilot.WinnerShare)
	}
	if c.AutoPilot.Enabled && c.AutoPilot.Interval <= 0 {
		return fmt.Errorf("auto-pilot interval must be positive")
	}

	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

// NewLogger builds a slog logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func (c LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.Level)
	}
	return level, nil
}

// Helper functions

func setString(key string, dst *string) {
	if value, exists := os.LookupEnv(key); exists {
		*dst = value
	}
}

func setList(key string, dst *[]string) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(key string, dst *int) error {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, value)
		}
		*dst = parsed
	}
	return nil
}

func setFloat(key string, dst *float64) error {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", key, value)
		}
		*dst = parsed
	}
	return nil
}

func setBool(key string, dst *bool) error {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", key, value)
		}
		*dst = parsed
	}
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, value)
		}
		*dst = parsed
	}
	return nil
}
