package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/paybot/core/config"
	coredatabase "github.com/m3rciful/paybot/core/database"
)

// Session store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Driver   string `yaml:"driver" envconfig:"SESSION_DRIVER"`
	TTLHours int    `yaml:"ttl_hours" envconfig:"SESSION_TTL_HOURS"`

	RedisAddr     string `yaml:"redis_addr" envconfig:"SESSION_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"SESSION_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"SESSION_REDIS_DB"`
}

// BackendConfig points at the payments backend API.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"BACKEND_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"BACKEND_TIMEOUT_SECONDS"`
}

// CryptoConfig carries the secret that derives the credential cipher key.
type CryptoConfig struct {
	Secret string `yaml:"secret" envconfig:"CRYPTO_SECRET"`
}

// RealtimeConfig points at the deposit notification channel service. An
// empty URL disables realtime notifications entirely.
type RealtimeConfig struct {
	URL string `yaml:"url" envconfig:"REALTIME_URL"`
}

// Config is the full bot configuration: the shared core sections inline at
// the top level plus the assistant-specific ones.
type Config struct {
	Core coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Session  SessionConfig       `yaml:"session"`
	Backend  BackendConfig       `yaml:"backend"`
	Crypto   CryptoConfig        `yaml:"crypto"`
	Realtime RealtimeConfig      `yaml:"realtime"`
}

// CoreConfig exposes the embedded core configuration to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// LoadConfig reads the YAML file, applies environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalize(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if cfg.Backend.TimeoutSeconds <= 0 {
		cfg.Backend.TimeoutSeconds = 15
	}
	if cfg.Crypto.Secret == "" {
		return fmt.Errorf("crypto.secret is required")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Session.Driver))
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Database.Host == "" {
			return fmt.Errorf("database.host is required when session.driver is 'postgres'")
		}
	case DriverRedis:
		if cfg.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required when session.driver is 'redis'")
		}
	default:
		return fmt.Errorf("unknown session.driver: %q", cfg.Session.Driver)
	}
	cfg.Session.Driver = driver

	if cfg.Session.TTLHours <= 0 {
		cfg.Session.TTLHours = 24
	}
	return nil
}
