package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultLogLevel       = "info"
)

// ServerConfig holds the settings of the inspection HTTP service.
// Precedence: CLI flags > Environment variables > Defaults
type ServerConfig struct {
	Port                 string        `env:"PORT"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD"`
	ReadHeaderTimeout    time.Duration `env:"READ_HEADER_TIMEOUT"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT"`
	EnableRequestLogging bool          `env:"ENABLE_REQUEST_LOGGING"`
	RateLimitRPS         float64       `env:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST"`
	LogLevel             string        `env:"LOG_LEVEL"`
}

// ServerOverrides holds command-line flag overrides. Nil fields are not set.
type ServerOverrides struct {
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	LogLevel       *string
}

// LoadServer resolves the service settings from defaults, BMERGER_*
// environment variables and flag overrides, in that order.
func LoadServer(overrides *ServerOverrides) (ServerConfig, error) {
	cfg := defaultServerConfig()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return ServerConfig{}, fmt.Errorf("error getting env configs: %w", err)
	}

	if overrides != nil {
		applyServerOverrides(&cfg, overrides)
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             defaultLogLevel,
	}
}

func applyServerOverrides(cfg *ServerConfig, overrides *ServerOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
}

func (cfg ServerConfig) validate() error {
	if cfg.Port == "" {
		return &ValidationError{Field: "port", Reason: "must not be empty"}
	}
	if cfg.RateLimitRPS < 0 {
		return &ValidationError{Field: "rate_limit_rps", Value: cfg.RateLimitRPS, Reason: "must be >= 0"}
	}
	if cfg.RateLimitBurst < 0 {
		return &ValidationError{Field: "rate_limit_burst", Value: cfg.RateLimitBurst, Reason: "must be >= 0"}
	}
	return nil
}
