// Package server wires configuration, logging, metrics, the sandbox runtime
// and the host service into runnable HTTP processes.
//
// Two shapes are provided:
//   - Server: the host API. Scripts run in-process or, with
//     RUNTIME_MODE=remote, on a worker reached over WebSocket.
//   - Worker: only the sandbox engine, served on /worker.
package server
