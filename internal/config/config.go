// Package config provides configuration management for Lattice.
// Settings come from environment variables with the LATTICE_ prefix, with
// sensible defaults for everything. An optional YAML file, pointed at by
// LATTICE_CONFIG_FILE, overrides individual values on top of the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Lattice server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
	Port int    `yaml:"port"` // Server port (default: 7070)
}

// Addr returns the host:port pair the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig contains graph store backend configuration.
type StorageConfig struct {
	Backend     string `yaml:"backend"`      // Backend type: sqlite, postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // SQLite database file (default: ./data/lattice.db)
	PostgresDSN string `yaml:"postgres_dsn"` // PostgreSQL connection string
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string `yaml:"mode"`      // Security mode: development, production (default: development)
	APIToken string `yaml:"api_token"` // API authentication token, required in production
}

// RateLimitConfig contains HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Sustained rate (default: 10)
	Burst             int     `yaml:"burst"`               // Maximum burst size (default: 20)
}

// LoadConfig loads configuration from environment variables, then applies
// the YAML file named by LATTICE_CONFIG_FILE (if any) on top. Values
// present in the file win; values absent from the file keep their
// environment or default value.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	if path := os.Getenv("LATTICE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("config: sqlite backend requires a database path")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres backend requires LATTICE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q (want sqlite or postgres)", c.Storage.Backend)
	}

	if c.Security.Mode != "development" && c.Security.Mode != "production" {
		return fmt.Errorf("config: unknown security mode %q (want development or production)", c.Security.Mode)
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: rate limit values must be positive")
	}
	return nil
}

// applyFile overlays the YAML file at path onto the config. Fields absent
// from the file are left untouched.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// buildBaseConfig constructs a Config from environment variables and
// defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("LATTICE_HOST", "127.0.0.1"),
			Port: getEnvInt("LATTICE_PORT", 7070),
		},
		Storage: StorageConfig{
			Backend:     getEnv("LATTICE_STORAGE_BACKEND", "sqlite"),
			SQLitePath:  getEnv("LATTICE_SQLITE_PATH", "./data/lattice.db"),
			PostgresDSN: getEnv("LATTICE_POSTGRES_DSN", ""),
		},
		Security: SecurityConfig{
			Mode:     getEnv("LATTICE_SECURITY_MODE", "development"),
			APIToken: getEnv("LATTICE_API_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("LATTICE_RATE_LIMIT_RPS", 10.0),
			Burst:             getEnvInt("LATTICE_RATE_LIMIT_BURST", 20),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, the default is used.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. If the variable exists but cannot be parsed, the default is used.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
