package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console-store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20, cfg.Store.PageSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingBaseURL)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
api:
  base_url: https://api.cf.example.com
  token: abc
  timeout: 5s
redis:
  addr: localhost:6379
  db: 2
store:
  page_size: 50
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.cf.example.com", cfg.API.BaseURL)
	assert.Equal(t, "abc", cfg.API.Token)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 50, cfg.Store.PageSize)
	assert.Equal(t, 10, cfg.Store.MaxConcurrency, "unset fields keep defaults")
	assert.True(t, cfg.Log.Pretty)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "api:\n  base_ur: typo\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "https://from-file.example.com"

	err := cfg.ApplyEnv(envOf(map[string]string{
		EnvBaseURL:  "https://from-env.example.com",
		EnvToken:    "env-token",
		EnvRedisURL: "redis:6379",
		EnvPageSize: "5",
		EnvListen:   ":9090",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Store.PageSize)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "console-store/dev", cfg.API.UserAgent, "empty variables leave fields alone")

	err = cfg.ApplyEnv(envOf(map[string]string{EnvPageSize: "many"}))
	assert.ErrorContains(t, err, EnvPageSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.API.BaseURL = "" }, true},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://api.example.com" }, true},
		{"no host", func(c *Config) { c.API.BaseURL = "https://" }, true},
		{"zero page size", func(c *Config) { c.Store.PageSize = 0 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.API.BaseURL = "https://api.example.com"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_MissingURLIsSentinel(t *testing.T) {
	err := Default().Validate()
	assert.True(t, errors.Is(err, ErrMissingBaseURL))
}
