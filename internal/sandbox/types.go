package sandbox

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/utils"
)

// Config defines sandbox limits. Limits are fixed when a session's runtime is
// created and hold for its lifetime.
type Config struct {
	MaxMemoryBytes    int64         // Heap growth allowed per invocation
	MaxSourceBytes    int           // Largest bundle or card source accepted
	MaxCallStackDepth int           // Script call stack ceiling
	LoadTimeout       time.Duration // Bundle load and hot-patch deadline
	RenderTimeout     time.Duration // Render deadline
	EventTimeout      time.Duration // Event handler deadline
	PollInterval      time.Duration // Heap sampling interval
	EnableConsole     bool          // Route console.* to the logger
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:    64 << 20,
		MaxSourceBytes:    utils.MaxBundleSize,
		MaxCallStackDepth: 1024,
		LoadTimeout:       2 * time.Second,
		RenderTimeout:     500 * time.Millisecond,
		EventTimeout:      500 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		EnableConsole:     true,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = d.MaxSourceBytes
	}
	if c.MaxCallStackDepth <= 0 {
		c.MaxCallStackDepth = d.MaxCallStackDepth
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = d.RenderTimeout
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = d.EventTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Operation names used in errors, logs and metrics
const (
	OpLoad         = "load"
	OpRender       = "render"
	OpEvent        = "event"
	OpDefineCard   = "defineCard"
	OpDefineRender = "defineCardRender"
	OpDefineHandle = "defineCardHandler"
)
