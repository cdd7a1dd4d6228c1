// Package config loads storefront settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SessionMemory = "memory"
	SessionFile   = "file"
	SessionRedis  = "redis"
)

type Config struct {
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	Search    SearchConfig    `yaml:"search"`
	DevServer DevServerConfig `yaml:"devserver"`
	Log       LogConfig       `yaml:"log"`
}

type APIConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type SessionConfig struct {
	// Backend is one of memory, file or redis.
	Backend   string        `yaml:"backend"`
	Path      string        `yaml:"path"`
	RedisAddr string        `yaml:"redis_addr"`
	Profile   string        `yaml:"profile"`
	TTL       time.Duration `yaml:"ttl"`
}

type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type DevServerConfig struct {
	HTTPPort        string        `yaml:"http_port"`
	DBPath          string        `yaml:"db_path"`
	RedisAddr       string        `yaml:"redis_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			Endpoint:        "http://localhost:8082/api/v1",
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Session: SessionConfig{
			Backend: SessionFile,
			Path:    defaultSessionPath(),
			Profile: "default",
		},
		Search: SearchConfig{
			Debounce: 500 * time.Millisecond,
		},
		DevServer: DevServerConfig{
			HTTPPort:        "8082",
			DBPath:          ":memory:",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config failed: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config failed: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.API.Endpoint = getEnv("STOREFRONT_ENDPOINT", c.API.Endpoint)
	c.Session.Backend = getEnv("STOREFRONT_SESSION", c.Session.Backend)
	c.Session.Path = getEnv("STOREFRONT_SESSION_PATH", c.Session.Path)
	c.Session.RedisAddr = getEnv("STOREFRONT_SESSION_REDIS", c.Session.RedisAddr)
	c.Session.Profile = getEnv("STOREFRONT_PROFILE", c.Session.Profile)
	c.DevServer.HTTPPort = getEnv("HTTP_PORT", c.DevServer.HTTPPort)
	c.DevServer.DBPath = getEnv("DB_PATH", c.DevServer.DBPath)
	c.DevServer.RedisAddr = getEnv("REDIS_ADDR", c.DevServer.RedisAddr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	timeout, err := getDuration("STOREFRONT_TIMEOUT", c.API.Timeout)
	if err != nil {
		return err
	}
	c.API.Timeout = timeout

	debounce, err := getDuration("STOREFRONT_DEBOUNCE", c.Search.Debounce)
	if err != nil {
		return err
	}
	c.Search.Debounce = debounce
	return nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api endpoint %q", c.API.Endpoint)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api timeout must not be negative, got %s", c.API.Timeout)
	}
	if c.Search.Debounce < 0 {
		return fmt.Errorf("search debounce must not be negative, got %s", c.Search.Debounce)
	}

	switch c.Session.Backend {
	case SessionMemory:
	case SessionFile:
		if c.Session.Path == "" {
			return errors.New("session backend file needs session.path")
		}
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			return errors.New("session backend redis needs session.redis_addr")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	if _, err := strconv.Atoi(c.DevServer.HTTPPort); err != nil {
		return fmt.Errorf("invalid devserver http port %q", c.DevServer.HTTPPort)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".storefront-session.yaml"
	}
	return filepath.Join(dir, "storefront", "session.yaml")
}
