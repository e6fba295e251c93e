package registry

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// DefaultInjectConcurrency bounds how many sessions InjectAll touches at once
const DefaultInjectConcurrency = 4

// CardDefiner hot-patches one card into a running session
type CardDefiner interface {
	DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error)
}

// InjectionFailure records one card that could not be injected
type InjectionFailure struct {
	CardID  string     `json:"cardId"`
	Code    rterr.Code `json:"code"`
	Message string     `json:"message"`
}

// InjectionReport summarizes draining the registry into one session
type InjectionReport struct {
	SessionID string             `json:"sessionId"`
	Injected  []string           `json:"injected"`
	Failed    []InjectionFailure `json:"failed"`
}

// OK reports whether every card was injected
func (r InjectionReport) OK() bool {
	return len(r.Failed) == 0
}

// Injector drains the registry into ready sessions
type Injector struct {
	registry    *Manager
	definer     CardDefiner
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	concurrency int
}

// NewInjector creates an injector. A nil logger is replaced with a no-op logger.
func NewInjector(registry *Manager, definer CardDefiner, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{
		registry:    registry,
		definer:     definer,
		logger:      logger,
		concurrency: DefaultInjectConcurrency,
	}
}

// WithMetrics adds metrics tracking to the injector
func (i *Injector) WithMetrics(metrics *monitoring.Metrics) *Injector {
	i.metrics = metrics
	return i
}

// WithConcurrency sets the number of sessions injected in parallel
func (i *Injector) WithConcurrency(n int) *Injector {
	if n > 0 {
		i.concurrency = n
	}
	return i
}

// Inject defines every registered card in sessionID, one at a time.
// A failing card never stops the others; failures are collected in the report.
func (i *Injector) Inject(ctx context.Context, sessionID string) InjectionReport {
	return i.InjectCards(ctx, sessionID, i.registry.ListPending())
}

// InjectCards defines the given cards in sessionID in order
func (i *Injector) InjectCards(ctx context.Context, sessionID string, cards []CardDefinition) InjectionReport {
	report := InjectionReport{
		SessionID: sessionID,
		Injected:  []string{},
		Failed:    []InjectionFailure{},
	}

	for _, card := range cards {
		if _, err := i.definer.DefineCard(ctx, sessionID, card.ID, card.Code); err != nil {
			report.Failed = append(report.Failed, InjectionFailure{
				CardID:  card.ID,
				Code:    rterr.CodeOf(err),
				Message: err.Error(),
			})
			i.record("failed")
			i.logger.Warn("runtime card injection failed",
				zap.String("session_id", sessionID),
				zap.String("card_id", card.ID),
				zap.Error(err))
			continue
		}
		report.Injected = append(report.Injected, card.ID)
		i.record("ok")
	}

	if len(cards) > 0 {
		i.logger.Debug("runtime cards injected",
			zap.String("session_id", sessionID),
			zap.Int("injected", len(report.Injected)),
			zap.Int("failed", len(report.Failed)))
	}
	return report
}

// InjectAll injects the registry into every listed session. Sessions run
// concurrently; cards within one session run serially. Reports are sorted
// by session id.
func (i *Injector) InjectAll(ctx context.Context, sessionIDs []string) []InjectionReport {
	return i.Broadcast(ctx, sessionIDs, i.registry.ListPending())
}

// Broadcast injects the given cards into every listed session with the same
// concurrency rules as InjectAll
func (i *Injector) Broadcast(ctx context.Context, sessionIDs []string, cards []CardDefinition) []InjectionReport {
	p := pool.NewWithResults[InjectionReport]().WithMaxGoroutines(i.concurrency)
	for _, sid := range sessionIDs {
		sid := sid
		p.Go(func() InjectionReport {
			return i.InjectCards(ctx, sid, cards)
		})
	}
	reports := p.Wait()

	sort.Slice(reports, func(a, b int) bool { return reports[a].SessionID < reports[b].SessionID })
	return reports
}

func (i *Injector) record(outcome string) {
	if i.metrics != nil {
		i.metrics.RecordInjection(outcome)
	}
}
