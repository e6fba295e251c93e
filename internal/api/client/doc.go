// Package client is a Go client for the host HTTP API, used by the
// cardruntime CLI to manage runtime cards on a running server.
package client
