// Package registry provides the runtime card registry.
//
// The registry is a process-wide catalog of card definitions supplied at run
// time, independent of any session. Once a session is ready, an Injector
// drains the catalog into it through the sandbox's DefineCard hot patch.
//
// Components:
//   - Manager: Register/Unregister/Has/ListPending plus change listeners
//   - Injector: per-session serial injection, sessions fanned out with conc
//
// Features:
//   - Size-capped catalog keyed by card id
//   - Content hashing so identical re-registration is a no-op
//   - Failures collected per card, never thrown
//
// Example Usage:
//
//	cards := registry.NewManager()
//	unsubscribe := cards.OnChange(func(ev registry.ChangeEvent) { ... })
//	err := cards.Register("stockAlert", "({ render: (ctx) => ui.text('hi') })")
//	report := registry.NewInjector(cards, engine, logger).Inject(ctx, sessionID)
package registry
