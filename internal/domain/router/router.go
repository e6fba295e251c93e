// Package router turns validated runtime intents into store mutations and,
// for authorized domain and system intents, into host actions.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// SourcePluginRuntime tags every forwarded action
const SourcePluginRuntime = "plugin-runtime"

// Host action types produced for system commands
const (
	ActionNavigate    = "navigation/navigate"
	ActionGoBack      = "navigation/goBack"
	ActionShowToast   = "notifications/showToast"
	ActionCloseWindow = "windowing/closeWindow"
)

// ActionMeta identifies where a forwarded action came from
type ActionMeta struct {
	Source    string `json:"source"`
	SessionID string `json:"sessionId"`
	CardID    string `json:"cardId"`
}

// HostAction is a reducer action handed to the host
type HostAction struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Meta    ActionMeta  `json:"meta"`
}

// Dispatcher accepts forwarded host actions
type Dispatcher interface {
	Dispatch(ctx context.Context, action HostAction) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, action HostAction) error

// Dispatch calls f
func (f DispatcherFunc) Dispatch(ctx context.Context, action HostAction) error {
	return f(ctx, action)
}

// DefaultActionBacklog bounds a RecordingDispatcher that nobody drains
const DefaultActionBacklog = 1000

// RecordingDispatcher keeps forwarded actions in memory for later pickup.
// Past its limit the oldest action is dropped.
type RecordingDispatcher struct {
	mu      sync.Mutex
	actions []HostAction
	limit   int
}

// NewRecordingDispatcher creates an empty recording dispatcher
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{limit: DefaultActionBacklog}
}

// WithLimit sets how many undrained actions are kept
func (d *RecordingDispatcher) WithLimit(n int) *RecordingDispatcher {
	if n > 0 {
		d.limit = n
	}
	return d
}

// Dispatch records action
func (d *RecordingDispatcher) Dispatch(_ context.Context, action HostAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = append(d.actions, action)
	if over := len(d.actions) - d.limit; over > 0 {
		d.actions = append(d.actions[:0], d.actions[over:]...)
	}
	return nil
}

// Actions returns a copy of the recorded actions
func (d *RecordingDispatcher) Actions() []HostAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]HostAction{}, d.actions...)
}

// Drain returns and clears the recorded actions
func (d *RecordingDispatcher) Drain() []HostAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.actions
	d.actions = nil
	if out == nil {
		return []HostAction{}
	}
	return out
}

// Result is the outcome of routing one intent
type Result struct {
	Outcome types.Outcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	EntryID string        `json:"entryId"`
	// Action is the forwarded host action, nil when nothing was dispatched
	Action *HostAction `json:"action,omitempty"`
}

// Router ingests intents through the store and forwards authorized ones
type Router struct {
	store      *session.Store
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates a router. A nil logger is replaced with a no-op logger.
func New(store *session.Store, dispatcher Dispatcher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, dispatcher: dispatcher, logger: logger}
}

// Route ingests one intent and forwards it when authorized and mappable.
// The returned error reports a dispatcher failure; the intent is already
// recorded in the timeline by then.
func (r *Router) Route(ctx context.Context, sessionID, cardID string, intent types.RuntimeIntent) (Result, error) {
	ingest := r.store.IngestIntent(sessionID, cardID, intent)
	result := Result{
		Outcome: ingest.Outcome,
		Reason:  ingest.Reason,
		EntryID: ingest.Entry.ID,
	}
	if ingest.Outcome != types.OutcomeApplied || ingest.EnvelopeID == "" {
		return result, nil
	}

	meta := ActionMeta{Source: SourcePluginRuntime, SessionID: sessionID, CardID: cardID}

	var action *HostAction
	switch intent.Scope {
	case types.ScopeDomain:
		env, ok := r.store.TakeDomainIntent(ingest.EnvelopeID)
		if !ok {
			return result, nil
		}
		action = &HostAction{
			Type:    env.Domain + "/" + env.ActionType,
			Payload: env.Payload,
			Meta:    meta,
		}
	case types.ScopeSystem:
		env, ok := r.store.TakeSystemIntent(ingest.EnvelopeID)
		if !ok {
			return result, nil
		}
		action, ok = systemAction(env.Command, env.Payload, meta)
		if !ok {
			r.logger.Debug("system command not forwarded",
				zap.String("session_id", sessionID),
				zap.String("command", env.Command))
			return result, nil
		}
	default:
		return result, nil
	}

	if err := r.dispatcher.Dispatch(ctx, *action); err != nil {
		return result, fmt.Errorf("dispatch %s: %w", action.Type, err)
	}
	result.Action = action
	return result, nil
}

// RouteAll routes intents in order. Dispatch failures do not stop routing;
// they are joined into the returned error.
func (r *Router) RouteAll(ctx context.Context, sessionID, cardID string, intents []types.RuntimeIntent) ([]Result, error) {
	results := make([]Result, 0, len(intents))
	var errs []error
	for _, intent := range intents {
		res, err := r.Route(ctx, sessionID, cardID, intent)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// systemAction maps a known command to its host action
func systemAction(command string, payload interface{}, meta ActionMeta) (*HostAction, bool) {
	fields, _ := payload.(map[string]interface{})

	switch command {
	case capability.CommandNavGo:
		cardID, ok := fields["cardId"].(string)
		if !ok || cardID == "" {
			return nil, false
		}
		out := map[string]interface{}{"cardId": cardID}
		if param, present := fields["param"]; present && param != nil {
			out["param"] = param
		}
		return &HostAction{Type: ActionNavigate, Payload: out, Meta: meta}, true

	case capability.CommandNavBack:
		return &HostAction{Type: ActionGoBack, Meta: meta}, true

	case capability.CommandNotify:
		message, ok := fields["message"].(string)
		if !ok {
			return nil, false
		}
		return &HostAction{Type: ActionShowToast, Payload: map[string]interface{}{"message": message}, Meta: meta}, true

	case capability.CommandWindowClose:
		return &HostAction{Type: ActionCloseWindow, Meta: meta}, true
	}
	return nil, false
}
