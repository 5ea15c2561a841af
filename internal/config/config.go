// Package config loads reviewgate settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "REVIEWGATE_"

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

var validModes = map[string]bool{
	"success": true,
	"fail":    true,
}

type Config struct {
	Host      string `env:"HOST"       envDefault:"127.0.0.1"`
	Port      int    `env:"PORT"       envDefault:"31001"`
	ClientKey string `env:"CLIENT_KEY" envDefault:"test-client-key"`

	// Simulate is "success" or "fail".
	Simulate string `env:"SIMULATE" envDefault:"success"`
	DelayMS  int    `env:"DELAY_MS" envDefault:"6000"`

	UseHTTPS bool   `env:"USE_HTTPS" envDefault:"true"`
	CertDir  string `env:"CERT_DIR"  envDefault:"certs"`

	Store  string `env:"STORE"   envDefault:"memory"`
	DBPath string `env:"DB_PATH" envDefault:":memory:"`

	// Testbed names the expected key in 401 responses. Never enable it
	// outside a local test bench.
	Testbed bool `env:"TESTBED" envDefault:"false"`

	CORSOrigins        []string `env:"CORS_ORIGINS"         envSeparator:","`
	CORSFallbackOrigin string   `env:"CORS_FALLBACK_ORIGIN" envDefault:"http://localhost:3000"`

	RateLimitRPS float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	CallbackURL  string  `env:"CALLBACK_URL"`

	// CallbackAllowPrivate permits loopback and private callback hosts.
	CallbackAllowPrivate bool `env:"CALLBACK_ALLOW_PRIVATE" envDefault:"false"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads envFile (".env" when empty) into the environment without
// overriding variables already set, then parses and validates the
// configuration. A missing default .env is not an error; a missing
// explicit file is.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("load .env file: %w", err)
			}
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) sanitize() {
	c.Simulate = strings.ToLower(strings.TrimSpace(c.Simulate))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.CORSFallbackOrigin = strings.TrimRight(strings.TrimSpace(c.CORSFallbackOrigin), "/")

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
}

// Validate checks value ranges that struct tags cannot express.
func (c *Config) Validate() error {
	if c.ClientKey == "" {
		return errors.New(EnvPrefix + "CLIENT_KEY must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf(EnvPrefix+"PORT %d out of range", c.Port)
	}
	if !validModes[c.Simulate] {
		return fmt.Errorf(EnvPrefix+"SIMULATE %q must be one of: success, fail", c.Simulate)
	}
	if c.DelayMS < 0 {
		return fmt.Errorf(EnvPrefix+"DELAY_MS must be >= 0, got %d", c.DelayMS)
	}
	if c.Store != StoreMemory && c.Store != StoreSQLite {
		return fmt.Errorf(EnvPrefix+"STORE %q must be one of: memory, sqlite", c.Store)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf(EnvPrefix+"RATE_LIMIT_RPS must be >= 0, got %v", c.RateLimitRPS)
	}
	if c.UseHTTPS && c.CertDir == "" {
		return errors.New(EnvPrefix + "CERT_DIR must not be empty when HTTPS is on")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TotalDelay is the time from submission to the terminal transition.
func (c *Config) TotalDelay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// Scheme is "https" or "http".
func (c *Config) Scheme() string {
	if c.UseHTTPS {
		return "https"
	}
	return "http"
}
