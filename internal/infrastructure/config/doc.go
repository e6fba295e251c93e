// Package config provides 12-factor configuration management for the card
// runtime.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP listen address, shutdown grace, runtime card directory
//   - Sandbox: per-invocation memory and deadline limits
//   - Store: timeline retention
//   - Runtime: in-process engine or remote WebSocket worker
//   - Breaker: runaway session guard
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Server.Address())
package config
