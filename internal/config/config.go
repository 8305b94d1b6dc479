// Package config loads VarServer's configuration from environment
// variables (with an optional .env file for local development), the
// way the teacher's ws_poc loads its server configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env:        environment variable name
//	envDefault: default value if not set
type Config struct {
	// Transport
	Address string `env:"VARSERVER_ADDRESS" envDefault:"0.0.0.0"`
	Port    int    `env:"VARSERVER_PORT" envDefault:"22099"`
	PidFile string `env:"VARSERVER_PIDFILE" envDefault:"/var/run/varserver.pid"`

	// Capacity
	MaxVariables int `env:"VARSERVER_MAX_VARIABLES" envDefault:"4096"`
	MaxClients   int `env:"VARSERVER_MAX_CLIENTS" envDefault:"256"`
	MaxTagsLen   int `env:"VARSERVER_MAX_TAGS" envDefault:"16"`
	WorkingBufferSize int `env:"VARSERVER_WORKING_BUFFER" envDefault:"4096"`

	// Admission control / resource limits
	MaxGoroutines        int     `env:"VARSERVER_MAX_GOROUTINES" envDefault:"2000"`
	MaxRequestsPerSecond  int     `env:"VARSERVER_MAX_REQUESTS_PER_SEC" envDefault:"5000"`
	MaxConnectsPerSecond  int     `env:"VARSERVER_MAX_CONNECTS_PER_SEC" envDefault:"50"`
	CPURejectThreshold    float64 `env:"VARSERVER_CPU_REJECT_THRESHOLD" envDefault:"85.0"`

	// Monitoring
	MetricsAddr     string        `env:"VARSERVER_METRICS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"VARSERVER_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"VARSERVER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"VARSERVER_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: environment variables > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Debug().Msg("no .env file found, using process environment only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the engine could not run under.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("VARSERVER_PORT must be 1-65535, got %d", c.Port)
	}
	if c.MaxVariables < 1 {
		return fmt.Errorf("VARSERVER_MAX_VARIABLES must be > 0, got %d", c.MaxVariables)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("VARSERVER_MAX_CLIENTS must be > 0, got %d", c.MaxClients)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("VARSERVER_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("VARSERVER_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("VARSERVER_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}

	return nil
}

// Addr returns the combined listen address for the TCP frontend.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Log emits the resolved configuration as a structured log line.
func (c *Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Int("max_variables", c.MaxVariables).
		Int("max_clients", c.MaxClients).
		Int("max_requests_per_sec", c.MaxRequestsPerSecond).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
