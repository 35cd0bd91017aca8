package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string        `env:"SERVER_ADDRESS" envDefault:":8090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// DatabaseConfig describes the relational store. URL is the only required value.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL,notEmpty"`
	Driver          string        `env:"DATABASE_DRIVER"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type AuthConfig struct {
	Enabled       bool   `env:"AUTH_ENABLED" envDefault:"true"`
	JWKSURL       string `env:"AUTH_JWKS_URL"`
	JWTSecret     string `env:"AUTH_JWT_SECRET"`
	Issuer        string `env:"AUTH_ISSUER"`
	Audience      string `env:"AUTH_AUDIENCE"`
	CookieName    string `env:"AUTH_COOKIE_NAME" envDefault:"__session"`
	DevUserHeader string `env:"AUTH_DEV_USER_HEADER" envDefault:"X-User-ID"`
}

type RateLimitConfig struct {
	Requests uint          `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and parses the process environment.
// A missing DATABASE_URL is reported as an error; callers treat it as fatal.
func Load() (*Config, error) {
	if !strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		if _, err := os.Stat(".env"); err == nil {
			if err := godotenv.Load(".env"); err != nil {
				return nil, fmt.Errorf("load .env: %w", err)
			}
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL must be configured")
	}

	if cfg.Auth.Enabled && cfg.Auth.JWKSURL == "" && cfg.Auth.JWTSecret == "" {
		return nil, errors.New("AUTH_JWKS_URL or AUTH_JWT_SECRET is required when AUTH_ENABLED is true")
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
