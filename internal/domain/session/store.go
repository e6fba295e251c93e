package session

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// DefaultTimelineCap bounds the audit timeline when no cap is configured
const DefaultTimelineCap = 500

// DefaultQueueCap bounds each host pickup queue; the oldest envelope is
// dropped first
const DefaultQueueCap = 1000

// Session is one runtime session as held by the store
type Session struct {
	ID           string                 `json:"id"`
	StackID      string                 `json:"stackId"`
	Status       types.Status           `json:"status"`
	Error        string                 `json:"error,omitempty"`
	SessionState types.State            `json:"sessionState"`
	CardState    map[string]types.State `json:"cardState"`
	Capabilities capability.Policy      `json:"capabilities"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

func (s *Session) clone() *Session {
	c := *s
	c.SessionState = CloneState(s.SessionState)
	c.CardState = cloneCardState(s.CardState)
	return &c
}

// RegisterParams describes a session to register
type RegisterParams struct {
	SessionID           string
	StackID             string
	Status              types.Status
	InitialSessionState types.State
	InitialCardState    map[string]types.State
	// Capabilities defaults to deny-all when nil
	Capabilities *capability.Policy
}

// IngestResult reports what happened to one ingested intent
type IngestResult struct {
	Outcome types.Outcome
	Reason  string
	Entry   types.TimelineEntry
	// EnvelopeID is set when an authorized domain or system intent was queued
	EnvelopeID string
}

// TimelineFilter selects timeline entries; zero fields match everything
type TimelineFilter struct {
	SessionID string
	CardID    string
	Outcome   types.Outcome
	// Limit keeps only the newest entries when positive
	Limit int
}

func (f TimelineFilter) match(e *types.TimelineEntry) bool {
	return (f.SessionID == "" || e.SessionID == f.SessionID) &&
		(f.CardID == "" || e.CardID == f.CardID) &&
		(f.Outcome == "" || e.Outcome == f.Outcome)
}

// Stats summarizes store contents
type Stats struct {
	Sessions          int `json:"sessions"`
	Loading           int `json:"loading"`
	Ready             int `json:"ready"`
	Errored           int `json:"errored"`
	TimelineEntries   int `json:"timelineEntries"`
	PendingDomain     int `json:"pendingDomain"`
	PendingSystem     int `json:"pendingSystem"`
	PendingNavigation int `json:"pendingNavigation"`
}

// Store holds every runtime session, the intent timeline and the host pickup
// queues. All mutation goes through its methods, each atomic under one mutex.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session          // Protected by mu
	timeline    []types.TimelineEntry        // Protected by mu
	domainQueue []types.DomainIntentEnvelope // Protected by mu
	systemQueue []types.SystemIntentEnvelope // Protected by mu
	navQueue    []types.SystemIntentEnvelope // Protected by mu
	timelineCap int
	queueCap    int
	now         func() time.Time
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithTimelineCap sets the maximum number of retained timeline entries
func WithTimelineCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.timelineCap = n
		}
	}
}

// WithQueueCap sets the maximum number of envelopes held per pickup queue
func WithQueueCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueCap = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		timelineCap: DefaultTimelineCap,
		queueCap:    DefaultQueueCap,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithMetrics adds metrics tracking to the store
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// RegisterSession adds a session. Registering an id twice fails and leaves the
// existing session untouched.
func (s *Store) RegisterSession(p RegisterParams) error {
	if p.SessionID == "" {
		return rterr.New(rterr.CodeSession, "session id is required")
	}
	status := p.Status
	if status == "" {
		status = types.StatusLoading
	}
	policy := capability.DenyAll()
	if p.Capabilities != nil {
		policy = *p.Capabilities
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[p.SessionID]; exists {
		return rterr.New(rterr.CodeSession, "session already registered: %s", p.SessionID).
			WithDetail("sessionId", p.SessionID)
	}

	now := s.now()
	s.sessions[p.SessionID] = &Session{
		ID:           p.SessionID,
		StackID:      p.StackID,
		Status:       status,
		SessionState: CloneState(p.InitialSessionState),
		CardState:    cloneCardState(p.InitialCardState),
		Capabilities: policy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.logger.Debug("session registered",
		zap.String("session_id", p.SessionID),
		zap.String("stack_id", p.StackID),
		zap.String("status", string(status)))
	return nil
}

// RemoveSession deletes a session and purges its queued envelopes.
// It reports whether the session existed.
func (s *Store) RemoveSession(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return false
	}
	delete(s.sessions, sessionID)

	s.domainQueue = filterEnvelopes(s.domainQueue, func(e *types.DomainIntentEnvelope) bool {
		return e.SessionID != sessionID
	})
	s.systemQueue = filterEnvelopes(s.systemQueue, func(e *types.SystemIntentEnvelope) bool {
		return e.SessionID != sessionID
	})
	s.navQueue = filterEnvelopes(s.navQueue, func(e *types.SystemIntentEnvelope) bool {
		return e.SessionID != sessionID
	})
	return true
}

// SetStatus transitions a session's lifecycle status. errMsg is kept only for
// the error status.
func (s *Store) SetStatus(sessionID string, status types.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return rterr.SessionNotFound(sessionID)
	}
	sess.Status = status
	sess.Error = ""
	if status == types.StatusError {
		sess.Error = errMsg
	}
	sess.UpdatedAt = s.now()
	return nil
}

// SeedState replaces session state and merges card state declared by a
// freshly loaded bundle
func (s *Store) SeedState(sessionID string, sessionState types.State, cardState map[string]types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return rterr.SessionNotFound(sessionID)
	}
	if sessionState != nil {
		sess.SessionState = CloneState(sessionState)
	}
	for card, st := range cardState {
		sess.CardState[card] = CloneState(st)
	}
	sess.UpdatedAt = s.now()
	return nil
}

// IngestIntent is the single entry point for every intent a handler emits.
// Each call appends exactly one timeline entry.
func (s *Store) IngestIntent(sessionID, cardID string, intent types.RuntimeIntent) IngestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := IngestResult{Outcome: types.OutcomeApplied}

	sess, ok := s.sessions[sessionID]
	switch {
	case !ok:
		result.Outcome = types.OutcomeDenied
		result.Reason = "missing_session:" + sessionID

	case intent.Scope == types.ScopeCard:
		target, exists := sess.CardState[cardID]
		if !exists {
			target = make(types.State)
			sess.CardState[cardID] = target
		}
		result.Outcome, result.Reason = applyLocal(target, intent.ActionType, intent.Payload)

	case intent.Scope == types.ScopeSession:
		result.Outcome, result.Reason = applyLocal(sess.SessionState, intent.ActionType, intent.Payload)

	case intent.Scope == types.ScopeDomain:
		decision := capability.AuthorizeDomain(sess.Capabilities, intent.Domain)
		if !decision.Allowed {
			result.Outcome, result.Reason = types.OutcomeDenied, decision.Reason
			break
		}
		env := types.DomainIntentEnvelope{
			ID:         id.NewEnvelopeID().String(),
			SessionID:  sessionID,
			CardID:     cardID,
			Domain:     intent.Domain,
			ActionType: intent.ActionType,
			Payload:    cloneValue(intent.Payload),
			CreatedAt:  now,
		}
		s.domainQueue = pushBounded(s.domainQueue, env, s.queueCap)
		result.EnvelopeID = env.ID

	case intent.Scope == types.ScopeSystem:
		decision := capability.AuthorizeSystem(sess.Capabilities, intent.Command)
		if !decision.Allowed {
			result.Outcome, result.Reason = types.OutcomeDenied, decision.Reason
			break
		}
		env := types.SystemIntentEnvelope{
			ID:        id.NewEnvelopeID().String(),
			SessionID: sessionID,
			CardID:    cardID,
			Command:   intent.Command,
			Payload:   cloneValue(intent.Payload),
			CreatedAt: now,
		}
		s.systemQueue = pushBounded(s.systemQueue, env, s.queueCap)
		if capability.IsNavigationCommand(intent.Command) {
			s.navQueue = pushBounded(s.navQueue, env, s.queueCap)
		}
		result.EnvelopeID = env.ID

	default:
		result.Outcome = types.OutcomeIgnored
		result.Reason = "unsupported_scope:" + string(intent.Scope)
	}

	if ok && result.Outcome == types.OutcomeApplied && intent.Scope.IsLocal() {
		sess.UpdatedAt = now
	}

	result.Entry = types.TimelineEntry{
		ID:         id.NewTimelineID().String(),
		Timestamp:  now,
		SessionID:  sessionID,
		CardID:     cardID,
		Scope:      intent.Scope,
		ActionType: intent.ActionType,
		Domain:     intent.Domain,
		Command:    intent.Command,
		Payload:    cloneValue(intent.Payload),
		Outcome:    result.Outcome,
		Reason:     result.Reason,
	}
	s.appendTimeline(result.Entry)

	if s.metrics != nil {
		s.metrics.RecordIntent(string(intent.Scope), string(result.Outcome))
	}
	if result.Outcome == types.OutcomeDenied {
		s.logger.Info("intent denied",
			zap.String("session_id", sessionID),
			zap.String("card_id", cardID),
			zap.String("reason", result.Reason))
	}
	return result
}

// appendTimeline must be called with mu held
func (s *Store) appendTimeline(entry types.TimelineEntry) {
	s.timeline = append(s.timeline, entry)
	if over := len(s.timeline) - s.timelineCap; over > 0 {
		s.timeline = append(s.timeline[:0], s.timeline[over:]...)
	}
}

// Session returns a deep copy of a session
func (s *Store) Session(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Snapshot returns the state handed to a render or event call for cardID
func (s *Store) Snapshot(sessionID, cardID string) (types.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.StateSnapshot{}, rterr.SessionNotFound(sessionID)
	}
	return types.StateSnapshot{
		CardState:    CloneState(sess.CardState[cardID]),
		SessionState: CloneState(sess.SessionState),
		GlobalState:  s.globalStateLocked(),
	}, nil
}

// globalStateLocked summarizes sessions for scripts; must hold mu
func (s *Store) globalStateLocked() types.State {
	sessions := make(map[string]interface{}, len(s.sessions))
	for sid, sess := range s.sessions {
		sessions[sid] = map[string]interface{}{
			"stackId": sess.StackID,
			"status":  string(sess.Status),
		}
	}
	return types.State{"sessions": sessions}
}

// Timeline returns matching entries, oldest first
func (s *Store) Timeline(filter TimelineFilter) []types.TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]types.TimelineEntry, 0)
	for i := range s.timeline {
		if filter.match(&s.timeline[i]) {
			e := s.timeline[i]
			e.Payload = cloneValue(e.Payload)
			entries = append(entries, e)
		}
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	return entries
}

// PendingDomainIntents returns queued domain envelopes in arrival order
func (s *Store) PendingDomainIntents() []types.DomainIntentEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.DomainIntentEnvelope{}, s.domainQueue...)
}

// PendingSystemIntents returns queued system envelopes in arrival order
func (s *Store) PendingSystemIntents() []types.SystemIntentEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.SystemIntentEnvelope{}, s.systemQueue...)
}

// PendingNavigationIntents returns queued navigation envelopes in arrival order
func (s *Store) PendingNavigationIntents() []types.SystemIntentEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.SystemIntentEnvelope{}, s.navQueue...)
}

// TakeDomainIntent removes and returns one queued domain envelope
func (s *Store) TakeDomainIntent(envelopeID string) (types.DomainIntentEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.domainQueue {
		if s.domainQueue[i].ID == envelopeID {
			env := s.domainQueue[i]
			s.domainQueue = append(s.domainQueue[:i], s.domainQueue[i+1:]...)
			return env, true
		}
	}
	return types.DomainIntentEnvelope{}, false
}

// TakeSystemIntent removes and returns one queued system envelope, together
// with its navigation queue copy
func (s *Store) TakeSystemIntent(envelopeID string) (types.SystemIntentEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.navQueue = filterEnvelopes(s.navQueue, func(e *types.SystemIntentEnvelope) bool {
		return e.ID != envelopeID
	})
	for i := range s.systemQueue {
		if s.systemQueue[i].ID == envelopeID {
			env := s.systemQueue[i]
			s.systemQueue = append(s.systemQueue[:i], s.systemQueue[i+1:]...)
			return env, true
		}
	}
	return types.SystemIntentEnvelope{}, false
}

// DrainNavigationIntents empties the navigation queue
func (s *Store) DrainNavigationIntents() []types.SystemIntentEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := s.navQueue
	s.navQueue = nil
	if drained == nil {
		return []types.SystemIntentEnvelope{}
	}
	return drained
}

// SessionIDs returns the registered session ids, sorted
func (s *Store) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

// ReadySessionIDs returns sessions in the ready status, sorted
func (s *Store) ReadySessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for sid, sess := range s.sessions {
		if sess.Status == types.StatusReady {
			ids = append(ids, sid)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats returns store statistics
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Sessions:          len(s.sessions),
		TimelineEntries:   len(s.timeline),
		PendingDomain:     len(s.domainQueue),
		PendingSystem:     len(s.systemQueue),
		PendingNavigation: len(s.navQueue),
	}
	for _, sess := range s.sessions {
		switch sess.Status {
		case types.StatusLoading:
			stats.Loading++
		case types.StatusReady:
			stats.Ready++
		case types.StatusError:
			stats.Errored++
		}
	}
	return stats
}

// pushBounded appends v, evicting from the front past limit
func pushBounded[T any](queue []T, v T, limit int) []T {
	queue = append(queue, v)
	if over := len(queue) - limit; over > 0 {
		queue = append(queue[:0], queue[over:]...)
	}
	return queue
}

func filterEnvelopes[T any](queue []T, keep func(*T) bool) []T {
	out := queue[:0]
	for i := range queue {
		if keep(&queue[i]) {
			out = append(out, queue[i])
		}
	}
	return out
}
