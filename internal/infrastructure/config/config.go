package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Runtime modes
const (
	RuntimeInProcess = "inprocess"
	RuntimeRemote    = "remote"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Sandbox   SandboxConfig
	Store     StoreConfig
	Runtime   RuntimeConfig
	Breaker   BreakerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MaxConnections  int           `envconfig:"MAX_CONNECTIONS" default:"1024"`
	CardsDir        string        `envconfig:"CARDS_DIR"`
}

// SandboxConfig holds script execution limits.
type SandboxConfig struct {
	MaxMemoryMB       int           `envconfig:"SANDBOX_MAX_MEMORY_MB" default:"64"`
	MaxCallStackDepth int           `envconfig:"SANDBOX_MAX_STACK" default:"1024"`
	LoadTimeout       time.Duration `envconfig:"SANDBOX_LOAD_TIMEOUT" default:"2s"`
	RenderTimeout     time.Duration `envconfig:"SANDBOX_RENDER_TIMEOUT" default:"500ms"`
	EventTimeout      time.Duration `envconfig:"SANDBOX_EVENT_TIMEOUT" default:"500ms"`
	Console           bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
}

// StoreConfig holds session store configuration.
type StoreConfig struct {
	TimelineCap int `envconfig:"TIMELINE_CAP" default:"1000"`
	QueueCap    int `envconfig:"QUEUE_CAP" default:"1000"`
}

// RuntimeConfig selects where scripts execute.
type RuntimeConfig struct {
	Mode      string `envconfig:"RUNTIME_MODE" default:"inprocess"`
	WorkerURL string `envconfig:"RUNTIME_WORKER_URL" default:"ws://localhost:8001/worker"`
}

// BreakerConfig holds the runaway session guard settings.
type BreakerConfig struct {
	Threshold     uint32        `envconfig:"BREAKER_THRESHOLD" default:"3"`
	Cooldown      time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	InjectTimeout time.Duration `envconfig:"INJECT_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Runtime.Mode {
	case RuntimeInProcess:
	case RuntimeRemote:
		if c.Runtime.WorkerURL == "" {
			return fmt.Errorf("invalid config: RUNTIME_WORKER_URL is required in remote mode")
		}
	default:
		return fmt.Errorf("invalid config: RUNTIME_MODE must be %q or %q, got %q",
			RuntimeInProcess, RuntimeRemote, c.Runtime.Mode)
	}
	if c.Breaker.Threshold == 0 {
		return fmt.Errorf("invalid config: BREAKER_THRESHOLD must be positive")
	}
	return nil
}

// Address returns the host:port the server listens on.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			MaxConnections:  1024,
		},
		Sandbox: SandboxConfig{
			MaxMemoryMB:       64,
			MaxCallStackDepth: 1024,
			LoadTimeout:       2 * time.Second,
			RenderTimeout:     500 * time.Millisecond,
			EventTimeout:      500 * time.Millisecond,
			Console:           true,
		},
		Store: StoreConfig{
			TimelineCap: 1000,
			QueueCap:    1000,
		},
		Runtime: RuntimeConfig{
			Mode:      RuntimeInProcess,
			WorkerURL: "ws://localhost:8001/worker",
		},
		Breaker: BreakerConfig{
			Threshold:     3,
			Cooldown:      30 * time.Second,
			InjectTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
