package sandbox

import (
	"context"
	"sort"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/schema"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/utils"
)

// stackSession is one loaded bundle. Fields other than id, stackID and rt
// are only touched inside rt.Invoke.
type stackSession struct {
	id      string
	stackID string
	rt      *Runtime
	factory goja.Callable
	defined bool
	cards   *goja.Object
	meta    types.SessionMeta
}

// Engine owns one isolated Runtime per session id.
// Callers must not invoke the same session concurrently.
type Engine struct {
	config  Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[string]*stackSession // Protected by mu
	loading  map[string]struct{}      // Protected by mu
	closed   bool                     // Protected by mu
}

// NewEngine creates an engine. A nil logger is replaced with a no-op logger.
func NewEngine(config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:   config.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*stackSession),
		loading:  make(map[string]struct{}),
	}
}

// WithMetrics adds metrics tracking to the engine
func (e *Engine) WithMetrics(metrics *monitoring.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// Config returns the effective limits
func (e *Engine) Config() Config {
	return e.config
}

// CreateSession allocates a runtime for sessionID, evaluates the bundle under
// the load deadline and returns what the bundle declared. The runtime is
// released on any failure.
func (e *Engine) CreateSession(ctx context.Context, stackID, sessionID, source string) (*types.SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "load cancelled")
	}
	if err := utils.ValidateID(sessionID, "session id", true); err != nil {
		return nil, rterr.Wrap(rterr.CodeSession, err, "invalid session id")
	}
	if len(source) > e.config.MaxSourceBytes {
		return nil, rterr.New(rterr.CodeRuntime, "bundle source exceeds %d bytes", e.config.MaxSourceBytes).
			WithDetail("size", len(source))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, rterr.New(rterr.CodeSession, "engine closed")
	}
	_, live := e.sessions[sessionID]
	_, pending := e.loading[sessionID]
	if live || pending {
		e.mu.Unlock()
		return nil, rterr.New(rterr.CodeSession, "session already exists: %s", sessionID).
			WithDetail("sessionId", sessionID)
	}
	e.loading[sessionID] = struct{}{}
	e.mu.Unlock()

	timer := monitoring.NewTimer(e.metrics, OpLoad)
	ss, err := e.load(stackID, sessionID, source)
	timer.Stop(outcome(err))

	e.mu.Lock()
	delete(e.loading, sessionID)
	if err == nil {
		e.sessions[sessionID] = ss
	}
	count := len(e.sessions)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("bundle load failed",
			zap.String("session_id", sessionID),
			zap.String("stack_id", stackID),
			zap.Error(err))
		return nil, err
	}

	e.recordSessions(count)
	e.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("stack_id", stackID),
		zap.Int("cards", len(ss.meta.Cards)))
	return cloneMeta(&ss.meta), nil
}

func (e *Engine) load(stackID, sessionID, source string) (*stackSession, error) {
	rt, err := New(e.config, e.logger.With(
		zap.String("session_id", sessionID),
		zap.String("stack_id", stackID)))
	if err != nil {
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "failed to create runtime")
	}
	ss := &stackSession{id: sessionID, stackID: stackID, rt: rt}

	err = rt.Define("defineStackBundle", func(call goja.FunctionCall) goja.Value {
		if ss.defined {
			panic(rt.vm.NewTypeError("defineStackBundle may only be called once"))
		}
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.vm.NewTypeError("defineStackBundle expects a factory function"))
		}
		ss.factory = fn
		ss.defined = true
		return goja.Undefined()
	})
	if err != nil {
		rt.Close()
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "failed to install entry point")
	}

	err = rt.Invoke(OpLoad, e.config.LoadTimeout, func(vm *goja.Runtime) error {
		if _, err := vm.RunScript(stackID+".bundle.js", source); err != nil {
			return err
		}
		if ss.factory == nil {
			return rterr.New(rterr.CodeRuntime, "bundle did not register via defineStackBundle")
		}

		scope := vm.NewObject()
		if err := scope.Set("ui", vm.Get("ui")); err != nil {
			return err
		}
		result, err := ss.factory(goja.Undefined(), scope)
		if err != nil {
			return err
		}
		bundle, ok := asPlainObject(result)
		if !ok {
			return rterr.New(rterr.CodeRuntime, "bundle factory must return an object")
		}
		cards, ok := asPlainObject(bundle.Get("cards"))
		if !ok {
			return rterr.New(rterr.CodeRuntime, "bundle cards must be an object mapping card ids to cards")
		}
		ss.cards = cards

		meta, err := readMeta(stackID, sessionID, bundle, cards)
		if err != nil {
			return err
		}
		ss.meta = meta
		return nil
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return ss, nil
}

// Render invokes a card's render function under the render deadline and
// validates the returned tree
func (e *Engine) Render(ctx context.Context, sessionID, cardID string, snapshot types.StateSnapshot) (types.UINode, error) {
	if err := ctx.Err(); err != nil {
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "render cancelled")
	}
	ss, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(e.metrics, OpRender)
	var raw interface{}
	err = ss.rt.Invoke(OpRender, e.config.RenderTimeout, func(vm *goja.Runtime) error {
		card, err := ss.card(cardID)
		if err != nil {
			return err
		}
		render, ok := goja.AssertFunction(card.Get("render"))
		if !ok {
			return rterr.New(rterr.CodeRuntime, "card %s has no render function", cardID).
				WithDetail("cardId", cardID)
		}
		renderCtx, err := ss.rt.importJSON(snapshotValue(snapshot))
		if err != nil {
			return err
		}
		v, err := render(card, renderCtx)
		if err != nil {
			return err
		}
		raw = exportValue(v)
		return nil
	})

	var node types.UINode
	if err == nil {
		node, err = schema.ValidateUINode(raw)
	}
	timer.Stop(outcome(err))
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Event invokes a card handler under the event deadline and returns the
// intents it dispatched, in call order
func (e *Engine) Event(ctx context.Context, sessionID, cardID, handler string, args interface{}, snapshot types.StateSnapshot) ([]types.RuntimeIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "event cancelled")
	}
	ss, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(e.metrics, OpEvent)
	var raw []interface{}
	err = ss.rt.Invoke(OpEvent, e.config.EventTimeout, func(vm *goja.Runtime) error {
		card, err := ss.card(cardID)
		if err != nil {
			return err
		}
		fn, ok := ownFunction(card.Get("handlers"), handler)
		if !ok {
			return rterr.New(rterr.CodeRuntime, "handler not found: %s.%s", cardID, handler).
				WithDetail("cardId", cardID).
				WithDetail("handler", handler)
		}

		ctxVal, err := ss.rt.importJSON(snapshotValue(snapshot))
		if err != nil {
			return err
		}
		handlerCtx := ctxVal.ToObject(vm)
		acc := &accumulator{vm: vm}
		if err := acc.install(handlerCtx); err != nil {
			return err
		}

		argsVal, err := ss.rt.importJSON(args)
		if err != nil {
			return err
		}
		if _, err := fn(card, handlerCtx, argsVal); err != nil {
			return err
		}
		raw = acc.intents
		return nil
	})

	var intents []types.RuntimeIntent
	if err == nil {
		intents, err = schema.ValidateIntents(toList(raw))
	}
	timer.Stop(outcome(err))
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// DefineCard evaluates code as a card object and installs it as cardID,
// replacing any existing card of that id
func (e *Engine) DefineCard(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	if err := utils.ValidateID(cardID, "card id", true); err != nil {
		return nil, rterr.Wrap(rterr.CodeRuntime, err, "invalid card id")
	}
	return e.define(ctx, OpDefineCard, sessionID, code, func(ss *stackSession, v goja.Value) error {
		card, ok := asPlainObject(v)
		if !ok {
			return rterr.New(rterr.CodeRuntime, "card definition must evaluate to an object")
		}
		if err := ss.cards.Set(cardID, card); err != nil {
			return err
		}
		ss.meta.Cards = ss.cards.Keys()
		return nil
	})
}

// DefineCardRender replaces one card's render function
func (e *Engine) DefineCardRender(ctx context.Context, sessionID, cardID, code string) (*types.SessionMeta, error) {
	return e.define(ctx, OpDefineRender, sessionID, code, func(ss *stackSession, v goja.Value) error {
		if _, ok := goja.AssertFunction(v); !ok {
			return rterr.New(rterr.CodeRuntime, "render definition must evaluate to a function")
		}
		card, err := ss.card(cardID)
		if err != nil {
			return err
		}
		return card.Set("render", v)
	})
}

// DefineCardHandler adds or replaces one card handler
func (e *Engine) DefineCardHandler(ctx context.Context, sessionID, cardID, handler, code string) (*types.SessionMeta, error) {
	if err := utils.ValidateHandlerName(handler); err != nil {
		return nil, rterr.Wrap(rterr.CodeRuntime, err, "invalid handler name")
	}
	return e.define(ctx, OpDefineHandle, sessionID, code, func(ss *stackSession, v goja.Value) error {
		if _, ok := goja.AssertFunction(v); !ok {
			return rterr.New(rterr.CodeRuntime, "handler definition must evaluate to a function")
		}
		card, err := ss.card(cardID)
		if err != nil {
			return err
		}
		handlers, ok := asPlainObject(card.Get("handlers"))
		if !ok {
			handlers = ss.rt.vm.NewObject()
			if err := card.Set("handlers", handlers); err != nil {
				return err
			}
		}
		return handlers.Set(handler, v)
	})
}

// define evaluates code as an expression under the load deadline and hands
// the value to apply
func (e *Engine) define(ctx context.Context, op, sessionID, code string, apply func(*stackSession, goja.Value) error) (*types.SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, rterr.Wrap(rterr.CodeUnknown, err, "%s cancelled", op)
	}
	if err := utils.ValidateSource(code, "code", e.config.MaxSourceBytes); err != nil {
		return nil, rterr.Wrap(rterr.CodeRuntime, err, "%s: invalid code", op)
	}
	ss, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(e.metrics, op)
	var meta *types.SessionMeta
	err = ss.rt.Invoke(op, e.config.LoadTimeout, func(vm *goja.Runtime) error {
		v, err := vm.RunScript(op+".js", "(\n"+code+"\n)")
		if err != nil {
			return err
		}
		if err := apply(ss, v); err != nil {
			return err
		}
		meta = cloneMeta(&ss.meta)
		return nil
	})
	timer.Stop(outcome(err))
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// DisposeSession releases a session's runtime. It reports false when the
// session does not exist, including after a previous dispose.
func (e *Engine) DisposeSession(_ context.Context, sessionID string) bool {
	e.mu.Lock()
	ss, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	count := len(e.sessions)
	e.mu.Unlock()

	if !ok {
		return false
	}
	ss.rt.Close()
	e.recordSessions(count)
	e.logger.Info("session disposed", zap.String("session_id", sessionID))
	return true
}

// Meta returns what a live session's bundle declared
func (e *Engine) Meta(sessionID string) (*types.SessionMeta, error) {
	ss, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	var meta *types.SessionMeta
	err = ss.rt.Invoke("meta", e.config.LoadTimeout, func(*goja.Runtime) error {
		meta = cloneMeta(&ss.meta)
		return nil
	})
	return meta, err
}

// Health reports readiness and the live session ids, sorted
func (e *Engine) Health(_ context.Context) types.Health {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.sessions))
	for sid := range e.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return types.Health{Ready: !e.closed, Sessions: ids}
}

// Close disposes every session and rejects further loads
func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*stackSession)
	e.closed = true
	e.mu.Unlock()

	for _, ss := range sessions {
		ss.rt.Close()
	}
	e.recordSessions(0)
	return nil
}

func (e *Engine) session(sessionID string) (*stackSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ss, ok := e.sessions[sessionID]
	if !ok {
		return nil, rterr.SessionNotFound(sessionID)
	}
	return ss, nil
}

func (e *Engine) recordSessions(count int) {
	if e.metrics != nil {
		e.metrics.SetSessionsActive(count)
	}
}

// card looks up a declared card; must be called inside Invoke
func (ss *stackSession) card(cardID string) (*goja.Object, error) {
	if !ss.meta.HasCard(cardID) {
		return nil, rterr.New(rterr.CodeRuntime, "card not found: %s", cardID).WithDetail("cardId", cardID)
	}
	card, ok := asPlainObject(ss.cards.Get(cardID))
	if !ok {
		return nil, rterr.New(rterr.CodeRuntime, "card not found: %s", cardID).WithDetail("cardId", cardID)
	}
	return card, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(rterr.CodeOf(err))
}

func cloneMeta(m *types.SessionMeta) *types.SessionMeta {
	c := *m
	c.Cards = append([]string{}, m.Cards...)
	return &c
}

func snapshotValue(s types.StateSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"cardState":    nonNil(s.CardState),
		"sessionState": nonNil(s.SessionState),
		"globalState":  nonNil(s.GlobalState),
	}
}

func nonNil(s types.State) types.State {
	if s == nil {
		return types.State{}
	}
	return s
}

func toList(raw []interface{}) interface{} {
	if raw == nil {
		return []interface{}{}
	}
	return raw
}
