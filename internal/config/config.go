// Package config provides configuration loading for mendd.
package config

import (
	"fmt"
	"time"
)

// Config is the root daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Runner    RunnerConfig    `koanf:"runner"`
	Fixer     FixerConfig     `koanf:"fixer"`
	CI        CIConfig        `koanf:"ci"`
	Git       GitConfig       `koanf:"git"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RunnerConfig bounds collaborator calls made by the run controller.
type RunnerConfig struct {
	StageTimeout Duration `koanf:"stage_timeout"`
	MaxRetries   int      `koanf:"max_retries"`
}

// FixerConfig holds LLM settings for patch generation.
type FixerConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// CIConfig holds remote pipeline polling settings. Disabled turns off CI
// monitoring entirely; iterations then record SKIPPED timeline entries.
type CIConfig struct {
	Disabled     bool     `koanf:"disabled"`
	PollInterval Duration `koanf:"poll_interval"`
	PollTimeout  Duration `koanf:"poll_timeout"`
}

// GitConfig holds working-copy settings.
type GitConfig struct {
	BaseDir     string `koanf:"base_dir"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// TelemetryConfig holds OTLP export settings. Export is disabled by default;
// instruments stay registered against the global no-op providers so the
// daemon runs fine without a collector.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	ExportInterval Duration `koanf:"export_interval"`
	ShutdownGrace  Duration `koanf:"shutdown_grace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Runner: RunnerConfig{
			StageTimeout: Duration(2 * time.Minute),
			MaxRetries:   2,
		},
		Fixer: FixerConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		CI: CIConfig{
			PollInterval: Duration(15 * time.Second),
			PollTimeout:  Duration(5 * time.Minute),
		},
		Git: GitConfig{
			AuthorName:  "mendd",
			AuthorEmail: "mendd@localhost",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			ServiceName:    "mendd",
			ServiceVersion: "0.1.0",
			Insecure:       true,
			SamplingRate:   1.0,
			ExportInterval: Duration(15 * time.Second),
			ShutdownGrace:  Duration(5 * time.Second),
		},
	}
}

// Validate checks invariants that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}
	if c.Runner.StageTimeout <= 0 {
		return fmt.Errorf("runner stage_timeout must be positive")
	}
	if c.Runner.MaxRetries < 0 {
		return fmt.Errorf("runner max_retries cannot be negative")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Validate checks telemetry invariants. A disabled section is always valid.
func (c *TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("export_interval must be positive")
	}
	if c.ShutdownGrace.Duration() <= 0 {
		return fmt.Errorf("shutdown_grace must be positive")
	}
	return nil
}
