package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/article-goat/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Sessions.Backend)
	assert.Equal(t, "file", cfg.Publish.Backend)
	assert.Equal(t, 90.0, cfg.AutoPilot.WinnerShare)
	assert.Equal(t, 5*time.Minute, cfg.AutoPilot.Interval)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
  allowed_origins: [https://news.example.com]
sessions:
  backend: redis
  ttl: 48h
redis:
  address: redis:6379
autopilot:
  interval: 1m
  winner_share: 80
`)
	t.Setenv("AG_PORT", "9100")
	t.Setenv("AG_WINNER_SHARE", "75")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://news.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Sessions.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, time.Minute, cfg.AutoPilot.Interval)
	assert.Equal(t, 75.0, cfg.AutoPilot.WinnerShare)
	assert.Equal(t, "./agt.db", cfg.Database.Path)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := config.Load(writeFile(t, "server:\n  prot: 1\n"))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := config.Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("AG_PORT", "eighty")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "AG_PORT")
}

func TestLoad_OriginsFromEnv(t *testing.T) {
	t.Setenv("AG_ALLOWED_ORIGINS", "https://a.test, https://b.test,")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Server.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port", func(c *config.Config) { c.Server.Port = 0 }},
		{"db path", func(c *config.Config) { c.Database.Path = "" }},
		{"session backend", func(c *config.Config) { c.Sessions.Backend = "memcached" }},
		{"redis address", func(c *config.Config) { c.Sessions.Backend = "redis"; c.Redis.Address = "" }},
		{"gcs bucket", func(c *config.Config) { c.Publish.Backend = "gcs" }},
		{"publish attempts", func(c *config.Config) { c.Publish.Attempts = 0 }},
		{"winner share", func(c *config.Config) { c.AutoPilot.WinnerShare = 120 }},
		{"interval", func(c *config.Config) { c.AutoPilot.Interval = 0 }},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, config.Default().Validate())
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	config.LogConfig{Level: "debug", Format: "text"}.NewLogger(&buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())
}
