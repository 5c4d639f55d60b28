// Package config reads runtime settings from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/floraexport/cartera/logger"
)

// Config holds runtime configuration for the server and CLI.
type Config struct {
	Env  string `envconfig:"ENV" default:"development"`
	Addr string `envconfig:"ADDR" default:":8080"`

	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`

	// Store is "sqlite" or "memory".
	Store  string `envconfig:"STORE" default:"sqlite"`
	DBPath string `envconfig:"DB_PATH" default:"./data/cartera.db"`

	// RedisAddr empty disables the statement cache.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stderr"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`

	// WriteRateLimit is requests per minute per client on write endpoints.
	WriteRateLimit int `envconfig:"WRITE_RATE_LIMIT" default:"60"`

	MaxCommitAttempts int  `envconfig:"MAX_COMMIT_ATTEMPTS" default:"3"`
	DemoScenarios     bool `envconfig:"DEMO_SCENARIOS" default:"true"`
}

// Prefix namespaces every variable: CARTERA_ADDR, CARTERA_DB_PATH, ...
const Prefix = "CARTERA"

// Load reads the optional .env files, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.MaxCommitAttempts < 1 {
		return errors.New("config: max commit attempts must be at least 1")
	}
	if c.WriteRateLimit < 1 {
		return errors.New("config: write rate limit must be at least 1")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// Logger maps the log settings onto the logger package.
func (c *Config) Logger() logger.Config {
	cfg := logger.DefaultConfig()
	if c.LogLevel != "" {
		cfg.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Format = c.LogFormat
	}
	if c.LogOutput != "" {
		cfg.Output = c.LogOutput
	}
	return cfg
}
