// Package config loads the console-store configuration from an optional YAML
// file and environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/console-store/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvBaseURL   = "CONSOLE_API_URL"
	EnvToken     = "CONSOLE_TOKEN"
	EnvEndpoint  = "CONSOLE_ENDPOINT"
	EnvUserAgent = "USER_AGENT"
	EnvRedisURL  = "REDIS_URL"
	EnvPageSize  = "CONSOLE_PAGE_SIZE"
	EnvLogLevel  = "LOG_LEVEL"
	EnvListen    = "LISTEN_ADDR"
)

// ErrMissingBaseURL is returned by Validate when no API URL is configured.
var ErrMissingBaseURL = errors.New("api url is required")

// Config is the process configuration.
type Config struct {
	// API is the console API the store fetches from.
	API APIConfig `yaml:"api"`

	// Redis enables the shared HTTP cache and rate limit state when Addr is set.
	Redis RedisConfig `yaml:"redis"`

	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`

	// Listen is the address of `serve`.
	Listen string `yaml:"listen"`
}

// APIConfig configures the HTTP client.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Endpoint  string        `yaml:"endpoint"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig configures pagination.
type StoreConfig struct {
	PageSize       int           `yaml:"page_size"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	PageTimeout    time.Duration `yaml:"page_timeout"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file or environment
// overrides are given.
func Default() Config {
	return Config{
		API: APIConfig{
			UserAgent: "console-store/dev",
			Timeout:   30 * time.Second,
		},
		Store: StoreConfig{
			PageSize:       20,
			MaxConcurrency: 10,
			PageTimeout:    15 * time.Second,
		},
		Log:    LogConfig{Level: string(logging.LevelInfo)},
		Listen: ":8080",
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from non-empty variables returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(EnvBaseURL, &c.API.BaseURL)
	set(EnvToken, &c.API.Token)
	set(EnvEndpoint, &c.API.Endpoint)
	set(EnvUserAgent, &c.API.UserAgent)
	set(EnvRedisURL, &c.Redis.Addr)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvListen, &c.Listen)

	if v := getenv(EnvPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPageSize, err)
		}
		c.Store.PageSize = n
	}
	return nil
}

// Validate checks the fields every command needs.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api url %q", c.API.BaseURL)
	}
	if c.Store.PageSize <= 0 {
		return fmt.Errorf("page size %d: must be positive", c.Store.PageSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
