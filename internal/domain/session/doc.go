// Package session provides the runtime session store.
//
// The Store holds, per session: lifecycle status, session-scoped and
// card-scoped local state, and an immutable capability policy. It also owns a
// bounded audit timeline and the queues of authorized domain, system and
// navigation intents awaiting host pickup.
//
// Every intent a card handler emits passes through IngestIntent, which records
// exactly one timeline entry regardless of outcome:
//
//	card/session  patch | set | reset applied to local state
//	domain        authorized, then queued as a DomainIntentEnvelope
//	system        authorized, then queued as a SystemIntentEnvelope
//	              (navigation commands also go to the navigation queue)
//
// Example Usage:
//
//	store := session.NewStore(session.WithTimelineCap(500))
//	err := store.RegisterSession(session.RegisterParams{SessionID: "s1", StackID: "inventory"})
//	res := store.IngestIntent("s1", "lowStock", intent)
package session
