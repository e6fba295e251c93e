// Package host orchestrates card sessions for an embedding application.
//
// Service ties a Runtime (the in-process sandbox engine or an RPC client) to
// the session store, the intent router and the runtime card registry:
//
//	Load     register loading -> create sandbox -> seed state -> ready -> inject cards
//	Render   snapshot from the store -> runtime render -> validated tree
//	Event    snapshot -> runtime event -> route every intent through the store
//
// Each session runs behind its own circuit breaker that counts only
// RUNTIME_TIMEOUT. When it trips, the session's sandbox is disposed and the
// session is marked error.
//
// Registering a runtime card broadcasts it into every ready session.
package host
