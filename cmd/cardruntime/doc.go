// Command cardruntime runs sandboxed plugin card stacks.
//
// Usage:
//
//	cardruntime serve [--port 8000] [--cards-dir ./cards] [--worker-url ws://host:8001/worker]
//	cardruntime worker [--port 8001]
//	cardruntime render ./stacks/inventory lowStock [--event reorder --args '{"sku":"A1"}']
//	cardruntime cards push ./stacks/inventory [--server http://127.0.0.1:8000]
//	cardruntime cards list
//	cardruntime cards rm banner
//
// Configuration is read from the environment; see internal/infrastructure/config.
package main
