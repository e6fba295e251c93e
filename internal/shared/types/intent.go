package types

import "time"

// IntentScope discriminates RuntimeIntent variants
type IntentScope string

const (
	ScopeCard    IntentScope = "card"
	ScopeSession IntentScope = "session"
	ScopeDomain  IntentScope = "domain"
	ScopeSystem  IntentScope = "system"
)

// IsLocal reports whether intents of this scope mutate runtime-local state
func (s IntentScope) IsLocal() bool {
	return s == ScopeCard || s == ScopeSession
}

// Local action types accepted by card and session intents
const (
	ActionPatch = "patch"
	ActionSet   = "set"
	ActionReset = "reset"
)

// RuntimeIntent is a side-effect request emitted by a card handler.
//
//	card    {actionType, payload}          mutates the calling card's state
//	session {actionType, payload}          mutates session-scoped state
//	domain  {domain, actionType, payload}  host business state, needs authorization
//	system  {command, payload}             host effect, needs authorization
type RuntimeIntent struct {
	Scope      IntentScope `json:"scope"`
	ActionType string      `json:"actionType,omitempty"`
	Domain     string      `json:"domain,omitempty"`
	Command    string      `json:"command,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// CardIntent builds a card-scoped intent
func CardIntent(actionType string, payload interface{}) RuntimeIntent {
	return RuntimeIntent{Scope: ScopeCard, ActionType: actionType, Payload: payload}
}

// SessionIntent builds a session-scoped intent
func SessionIntent(actionType string, payload interface{}) RuntimeIntent {
	return RuntimeIntent{Scope: ScopeSession, ActionType: actionType, Payload: payload}
}

// DomainIntent builds a domain intent
func DomainIntent(domain, actionType string, payload interface{}) RuntimeIntent {
	return RuntimeIntent{Scope: ScopeDomain, Domain: domain, ActionType: actionType, Payload: payload}
}

// SystemIntent builds a system command intent
func SystemIntent(command string, payload interface{}) RuntimeIntent {
	return RuntimeIntent{Scope: ScopeSystem, Command: command, Payload: payload}
}

// Outcome is the audit result of ingesting one intent
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeDenied  Outcome = "denied"
	OutcomeIgnored Outcome = "ignored"
)

// TimelineEntry is the audit record of one ingested intent
type TimelineEntry struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	SessionID  string      `json:"sessionId"`
	CardID     string      `json:"cardId"`
	Scope      IntentScope `json:"scope"`
	ActionType string      `json:"actionType,omitempty"`
	Domain     string      `json:"domain,omitempty"`
	Command    string      `json:"command,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Outcome    Outcome     `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
}

// DomainIntentEnvelope is an authorized domain intent awaiting host pickup
type DomainIntentEnvelope struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	CardID     string      `json:"cardId"`
	Domain     string      `json:"domain"`
	ActionType string      `json:"actionType"`
	Payload    interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// SystemIntentEnvelope is an authorized system command awaiting host pickup
type SystemIntentEnvelope struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	CardID    string      `json:"cardId"`
	Command   string      `json:"command"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}
