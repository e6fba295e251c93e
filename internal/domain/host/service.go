package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// Runtime executes card sessions: a *sandbox.Engine in process or an
// *rpc.Client in front of a remote worker
type Runtime interface {
	CreateSession(ctx context.Context, stackID, sessionID, source string) (*types.SessionMeta, error)
	Render(ctx context.Context, sessionID, cardID string, snapshot types.StateSnapshot) (types.UINode, error)
	Event(ctx context.Context, sessionID, cardID, handler string, args interface{}, snapshot types.StateSnapshot) ([]types.RuntimeIntent, error)
	DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error)
	DefineCardRender(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error)
	DefineCardHandler(ctx context.Context, sessionID, cardID, handler, code string) (*types.SessionMeta, error)
	DisposeSession(ctx context.Context, sessionID string) bool
	Health(ctx context.Context) types.Health
}

// Config tunes the host service
type Config struct {
	// BreakerThreshold is how many consecutive timeouts dispose a session
	BreakerThreshold uint32
	// BreakerCooldown is how long a tripped breaker stays open
	BreakerCooldown time.Duration
	// InjectTimeout bounds registry-driven injection into live sessions
	InjectTimeout time.Duration
}

// DefaultConfig returns the default host settings
func DefaultConfig() Config {
	return Config{
		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Second,
		InjectTimeout:    10 * time.Second,
	}
}

// LoadRequest describes a bundle to load into a new session
type LoadRequest struct {
	StackID      string
	SessionID    string // generated when empty
	Source       string
	Capabilities *capability.Policy // deny-all when nil
}

// LoadResult is what a successful load returns
type LoadResult struct {
	Meta      *types.SessionMeta       `json:"meta"`
	Injection registry.InjectionReport `json:"injection"`
}

// EventResult carries the intents a handler emitted and how each was routed
type EventResult struct {
	Intents []types.RuntimeIntent `json:"intents"`
	Routed  []router.Result       `json:"routed"`
}

// HealthReport combines runtime, store and registry health
type HealthReport struct {
	Runtime  types.Health  `json:"runtime"`
	Store    session.Stats `json:"store"`
	Registry int           `json:"registryCards"`
}

// Service orchestrates loading, rendering and events across the runtime,
// the session store, the intent router and the card registry
type Service struct {
	runtime  Runtime
	store    *session.Store
	router   *router.Router
	registry *registry.Manager
	injector *registry.Injector
	guard    *resilience.Group
	config   Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	unsubscribe func()
}

// NewService wires a service and subscribes it to registry changes.
// Call Close to unsubscribe.
func NewService(runtime Runtime, store *session.Store, rt *router.Router, reg *registry.Manager, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = defaults.BreakerThreshold
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = defaults.BreakerCooldown
	}
	if config.InjectTimeout <= 0 {
		config.InjectTimeout = defaults.InjectTimeout
	}

	s := &Service{
		runtime:  runtime,
		store:    store,
		router:   rt,
		registry: reg,
		config:   config,
		logger:   logger,
	}
	s.injector = registry.NewInjector(reg, s, logger)
	threshold := config.BreakerThreshold
	s.guard = resilience.NewGroup(resilience.Settings{
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsFailure: func(err error) bool {
			return rterr.Is(err, rterr.CodeTimeout)
		},
	})
	s.unsubscribe = reg.OnChange(s.onRegistryChange)
	return s
}

// WithMetrics adds metrics tracking to the service
func (s *Service) WithMetrics(metrics *monitoring.Metrics) *Service {
	s.metrics = metrics
	s.injector.WithMetrics(metrics)
	return s
}

// Close stops reacting to registry changes
func (s *Service) Close() {
	s.unsubscribe()
}

// Load registers a session as loading, creates its sandbox, seeds the
// declared initial state, marks it ready and injects pending runtime cards.
// A failed load leaves the session registered with status error.
func (s *Service) Load(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	if req.SessionID == "" {
		req.SessionID = id.NewSessionID().String()
	}
	err := s.store.RegisterSession(session.RegisterParams{
		SessionID:    req.SessionID,
		StackID:      req.StackID,
		Status:       types.StatusLoading,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		return nil, err
	}

	meta, err := s.runtime.CreateSession(ctx, req.StackID, req.SessionID, req.Source)
	if err != nil {
		if serr := s.store.SetStatus(req.SessionID, types.StatusError, err.Error()); serr != nil {
			s.logger.Warn("failed to record load error", zap.Error(serr))
		}
		return nil, err
	}

	if err := s.store.SeedState(req.SessionID, meta.InitialSessionState, meta.InitialCardState); err != nil {
		s.runtime.DisposeSession(ctx, req.SessionID)
		return nil, fmt.Errorf("seed session state: %w", err)
	}
	if err := s.store.SetStatus(req.SessionID, types.StatusReady, ""); err != nil {
		s.runtime.DisposeSession(ctx, req.SessionID)
		return nil, fmt.Errorf("mark session ready: %w", err)
	}

	report := s.injector.Inject(ctx, req.SessionID)
	meta = withInjected(meta, report.Injected)

	s.logger.Info("session loaded",
		zap.String("session_id", req.SessionID),
		zap.String("stack_id", req.StackID),
		zap.Strings("cards", meta.Cards),
		zap.Int("injected", len(report.Injected)),
		zap.Int("injection_failures", len(report.Failed)))

	return &LoadResult{Meta: meta, Injection: report}, nil
}

// withInjected appends injected card ids the bundle did not declare
func withInjected(meta *types.SessionMeta, injected []string) *types.SessionMeta {
	out := *meta
	out.Cards = append([]string{}, meta.Cards...)
	for _, cardID := range injected {
		if !out.HasCard(cardID) {
			out.Cards = append(out.Cards, cardID)
		}
	}
	return &out
}

// Render renders cardID against the session's current state
func (s *Service) Render(ctx context.Context, sessionID, cardID string) (types.UINode, error) {
	snapshot, err := s.readySnapshot(sessionID, cardID)
	if err != nil {
		return nil, err
	}

	var node types.UINode
	err = s.guarded(ctx, sessionID, func() error {
		var err error
		node, err = s.runtime.Render(ctx, sessionID, cardID, snapshot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Event runs a card handler and routes every intent it emitted, in order.
// Dispatch failures are returned alongside the routing results.
func (s *Service) Event(ctx context.Context, sessionID, cardID, handler string, args interface{}) (*EventResult, error) {
	snapshot, err := s.readySnapshot(sessionID, cardID)
	if err != nil {
		return nil, err
	}

	var intents []types.RuntimeIntent
	err = s.guarded(ctx, sessionID, func() error {
		var err error
		intents, err = s.runtime.Event(ctx, sessionID, cardID, handler, args, snapshot)
		return err
	})
	if err != nil {
		return nil, err
	}

	routed, err := s.router.RouteAll(ctx, sessionID, cardID, intents)
	result := &EventResult{Intents: intents, Routed: routed}
	if err != nil {
		return result, rterr.Wrap(rterr.CodeUnknown, err, "forward intents for %s.%s", cardID, handler)
	}
	return result, nil
}

// DefineCard installs or replaces a card in a ready session
func (s *Service) DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	return s.define(ctx, sessionID, func() (*types.SessionMeta, error) {
		return s.runtime.DefineCard(ctx, sessionID, cardID, code)
	})
}

// DefineCardRender replaces a card's render function
func (s *Service) DefineCardRender(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	return s.define(ctx, sessionID, func() (*types.SessionMeta, error) {
		return s.runtime.DefineCardRender(ctx, sessionID, cardID, code)
	})
}

// DefineCardHandler adds or replaces a card handler
func (s *Service) DefineCardHandler(ctx context.Context, sessionID, cardID, handler, code string) (*types.SessionMeta, error) {
	return s.define(ctx, sessionID, func() (*types.SessionMeta, error) {
		return s.runtime.DefineCardHandler(ctx, sessionID, cardID, handler, code)
	})
}

func (s *Service) define(ctx context.Context, sessionID string, fn func() (*types.SessionMeta, error)) (*types.SessionMeta, error) {
	if _, err := s.readySession(sessionID); err != nil {
		return nil, err
	}
	var meta *types.SessionMeta
	err := s.guarded(ctx, sessionID, func() error {
		var err error
		meta, err = fn()
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Dispose releases the session's sandbox and forgets its state. It reports
// whether anything existed.
func (s *Service) Dispose(ctx context.Context, sessionID string) bool {
	disposed := s.runtime.DisposeSession(ctx, sessionID)
	removed := s.store.RemoveSession(sessionID)
	s.guard.Remove(sessionID)
	if disposed || removed {
		s.logger.Info("session disposed", zap.String("session_id", sessionID))
	}
	return disposed || removed
}

// Session returns a copy of a session's store record
func (s *Service) Session(sessionID string) (*session.Session, error) {
	sess, ok := s.store.Session(sessionID)
	if !ok {
		return nil, rterr.SessionNotFound(sessionID)
	}
	return sess, nil
}

// Timeline returns audit entries matching filter
func (s *Service) Timeline(filter session.TimelineFilter) []types.TimelineEntry {
	return s.store.Timeline(filter)
}

// Health reports runtime, store and registry health
func (s *Service) Health(ctx context.Context) HealthReport {
	return HealthReport{
		Runtime:  s.runtime.Health(ctx),
		Store:    s.store.Stats(),
		Registry: s.registry.Len(),
	}
}

// RegisterCard adds a runtime card. Ready sessions receive it immediately.
func (s *Service) RegisterCard(cardID, code string) error {
	return s.registry.Register(cardID, code)
}

// UnregisterCard removes a runtime card from the registry. Sessions that
// already received it keep it.
func (s *Service) UnregisterCard(cardID string) bool {
	return s.registry.Unregister(cardID)
}

// Cards lists registered runtime cards in registration order
func (s *Service) Cards() []registry.CardDefinition {
	return s.registry.ListPending()
}

func (s *Service) onRegistryChange(ev registry.ChangeEvent) {
	if ev.Kind != registry.ChangeRegistered {
		return
	}
	card, ok := s.registry.Get(ev.CardID)
	if !ok {
		return
	}
	sessions := s.store.ReadySessionIDs()
	if len(sessions) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.InjectTimeout)
	defer cancel()

	reports := s.injector.Broadcast(ctx, sessions, []registry.CardDefinition{card})
	failed := 0
	for _, r := range reports {
		failed += len(r.Failed)
	}
	s.logger.Info("runtime card broadcast",
		zap.String("card_id", ev.CardID),
		zap.Int("sessions", len(sessions)),
		zap.Int("failures", failed))
}

func (s *Service) readySession(sessionID string) (*session.Session, error) {
	sess, ok := s.store.Session(sessionID)
	if !ok {
		return nil, rterr.SessionNotFound(sessionID)
	}
	if sess.Status != types.StatusReady {
		return nil, rterr.New(rterr.CodeSession, "session %s is %s", sessionID, sess.Status).
			WithDetail("sessionId", sessionID).
			WithDetail("status", string(sess.Status))
	}
	return sess, nil
}

func (s *Service) readySnapshot(sessionID, cardID string) (types.StateSnapshot, error) {
	if _, err := s.readySession(sessionID); err != nil {
		return types.StateSnapshot{}, err
	}
	return s.store.Snapshot(sessionID, cardID)
}

// guarded runs fn through the session's breaker and quarantines the session
// once consecutive timeouts trip it
func (s *Service) guarded(ctx context.Context, sessionID string, fn func() error) error {
	breaker := s.guard.Get(sessionID)
	err := breaker.Do(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return rterr.Wrap(rterr.CodeSession, err, "session %s is suspended", sessionID).
			WithDetail("sessionId", sessionID)
	}
	if rterr.Is(err, rterr.CodeTimeout) && breaker.State() == resilience.StateOpen {
		s.quarantine(ctx, sessionID)
	}
	return err
}

// quarantine disposes a runaway session's sandbox and marks it errored.
// The store record stays for inspection until Dispose.
func (s *Service) quarantine(ctx context.Context, sessionID string) {
	s.runtime.DisposeSession(ctx, sessionID)
	msg := fmt.Sprintf("disposed after %d consecutive timeouts", s.config.BreakerThreshold)
	if err := s.store.SetStatus(sessionID, types.StatusError, msg); err != nil {
		s.logger.Warn("failed to mark quarantined session", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.guard.Remove(sessionID)
	if s.metrics != nil {
		s.metrics.IncBreakerTrips()
	}
	s.logger.Warn("runaway session disposed",
		zap.String("session_id", sessionID),
		zap.Uint32("threshold", s.config.BreakerThreshold))
}
