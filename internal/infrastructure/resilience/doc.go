/*
Package resilience provides the circuit breaker used to guard runaway sessions.

# Overview

A Breaker counts consecutive failures and opens once ReadyToTrip says so.
IsFailure selects which errors count; the host counts only RUNTIME_TIMEOUT so
that a session whose cards keep hitting the deadline is disposed instead of
burning a sandbox on every call. A Group keeps one breaker per session id.

# Usage

	guard := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsFailure: func(err error) bool {
			return rterr.Is(err, rterr.CodeTimeout)
		},
	})

	node, err := resilience.Call(guard.Get(sessionID), func() (types.UINode, error) {
		return runtime.Render(ctx, sessionID, cardID, snapshot)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
