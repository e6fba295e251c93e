package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/rpc"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

const inventoryBundle = `
defineStackBundle(function (ctx) {
  var ui = ctx.ui;
  return {
    id: "inventory",
    title: "Inventory",
    initialSessionState: { filter: "all" },
    initialCardState: { lowStock: { threshold: 5 } },
    cards: {
      lowStock: {
        render: function (c) {
          var last = c.cardState.lastSku || "none";
          return ui.column(ui.text("threshold " + c.cardState.threshold), ui.badge(last));
        },
        handlers: {
          reorder: function (c, args) {
            c.dispatchCardAction("patch", { lastSku: args.sku });
            c.dispatchSessionAction("set", { path: "edits.title", value: "Reordered" });
            c.dispatchDomainAction("inventory", "reorder", { sku: args.sku, qty: 10 });
            c.dispatchSystemCommand("nav.go", { cardId: "detail" });
          },
          close: function (c) {
            c.dispatchSystemCommand("window.close", {});
          }
        }
      },
      detail: {
        render: function (c) { return ui.text("filter " + c.sessionState.filter); }
      },
      spin: {
        render: function () { while (true) {} }
      }
    }
  };
});
`

type fixture struct {
	service    *Service
	engine     *sandbox.Engine
	store      *session.Store
	registry   *registry.Manager
	dispatcher *router.RecordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config := sandbox.DefaultConfig()
	config.RenderTimeout = 50 * time.Millisecond
	config.EventTimeout = 50 * time.Millisecond
	engine := sandbox.NewEngine(config, nil)
	return newFixtureWith(t, engine, engine)
}

func newFixtureWith(t *testing.T, runtime Runtime, engine *sandbox.Engine) *fixture {
	t.Helper()
	store := session.NewStore()
	dispatcher := router.NewRecordingDispatcher()
	reg := registry.NewManager()
	service := NewService(runtime, store, router.New(store, dispatcher, nil), reg,
		Config{BreakerThreshold: 2}, nil)

	t.Cleanup(func() {
		service.Close()
		if engine != nil {
			engine.Close()
		}
	})
	return &fixture{service: service, engine: engine, store: store, registry: reg, dispatcher: dispatcher}
}

func inventoryPolicy() *capability.Policy {
	return &capability.Policy{
		Domain: capability.Only("inventory"),
		System: capability.Only(capability.CommandNavGo),
	}
}

func (f *fixture) load(t *testing.T, sessionID string) *LoadResult {
	t.Helper()
	res, err := f.service.Load(context.Background(), LoadRequest{
		StackID:      "inventory",
		SessionID:    sessionID,
		Source:       inventoryBundle,
		Capabilities: inventoryPolicy(),
	})
	require.NoError(t, err)
	return res
}

func TestLoadSeedsStateAndMarksReady(t *testing.T) {
	f := newFixture(t)
	res := f.load(t, "s1")

	assert.Equal(t, []string{"lowStock", "detail", "spin"}, res.Meta.Cards)
	assert.True(t, res.Injection.OK())

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, sess.Status)
	assert.Equal(t, types.State{"filter": "all"}, sess.SessionState)
	assert.Equal(t, types.State{"threshold": int64(5)}, sess.CardState["lowStock"])

	node, err := f.service.Render(context.Background(), "s1", "lowStock")
	require.NoError(t, err)
	assert.Equal(t, types.Column(types.Text("threshold 5"), types.Badge("none")), node)
}

func TestLoadGeneratesSessionID(t *testing.T) {
	f := newFixture(t)
	res, err := f.service.Load(context.Background(), LoadRequest{StackID: "inventory", Source: inventoryBundle})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Meta.SessionID)

	_, err = f.service.Session(res.Meta.SessionID)
	assert.NoError(t, err)
}

func TestLoadDuplicateLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")

	_, err := f.service.Load(context.Background(), LoadRequest{StackID: "other", SessionID: "s1", Source: `bad(`})
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, "inventory", sess.StackID)
	assert.Equal(t, types.StatusReady, sess.Status)
}

func TestLoadFailureMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Load(ctx, LoadRequest{StackID: "bad", SessionID: "s1", Source: `var nothing = 1;`})
	assert.Equal(t, rterr.CodeRuntime, rterr.CodeOf(err))

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, sess.Status)
	assert.Contains(t, sess.Error, "defineStackBundle")

	_, err = f.service.Render(ctx, "s1", "lowStock")
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))

	// Dispose frees the id for a retry
	assert.True(t, f.service.Dispose(ctx, "s1"))
	f.load(t, "s1")
}

func TestEventRoutesIntents(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	ctx := context.Background()

	res, err := f.service.Event(ctx, "s1", "lowStock", "reorder", map[string]interface{}{"sku": "A-1"})
	require.NoError(t, err)
	require.Len(t, res.Intents, 4)
	require.Len(t, res.Routed, 4)
	for _, routed := range res.Routed {
		assert.Equal(t, types.OutcomeApplied, routed.Outcome)
	}

	meta := router.ActionMeta{Source: router.SourcePluginRuntime, SessionID: "s1", CardID: "lowStock"}
	assert.Equal(t, []router.HostAction{
		{Type: "inventory/reorder", Payload: map[string]interface{}{"sku": "A-1", "qty": int64(10)}, Meta: meta},
		{Type: router.ActionNavigate, Payload: map[string]interface{}{"cardId": "detail"}, Meta: meta},
	}, f.dispatcher.Drain())

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, "A-1", sess.CardState["lowStock"]["lastSku"])
	assert.Equal(t, map[string]interface{}{"title": "Reordered"}, sess.SessionState["edits"])

	// Next render sees the patched card state
	node, err := f.service.Render(ctx, "s1", "lowStock")
	require.NoError(t, err)
	assert.Equal(t, types.Column(types.Text("threshold 5"), types.Badge("A-1")), node)

	assert.Len(t, f.service.Timeline(session.TimelineFilter{SessionID: "s1"}), 4)
}

func TestEventDeniedSystemCommand(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")

	res, err := f.service.Event(context.Background(), "s1", "lowStock", "close", nil)
	require.NoError(t, err)
	require.Len(t, res.Routed, 1)
	assert.Equal(t, types.OutcomeDenied, res.Routed[0].Outcome)
	assert.Equal(t, "system_command_not_allowed:window.close", res.Routed[0].Reason)
	assert.Nil(t, res.Routed[0].Action)
	assert.Empty(t, f.dispatcher.Actions())

	denied := f.service.Timeline(session.TimelineFilter{Outcome: types.OutcomeDenied})
	require.Len(t, denied, 1)
	assert.Equal(t, "window.close", denied[0].Command)
}

func TestEventErrorsDoNotTouchStore(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	ctx := context.Background()

	_, err := f.service.Event(ctx, "s1", "lowStock", "missing", nil)
	assert.Equal(t, rterr.CodeRuntime, rterr.CodeOf(err))

	_, err = f.service.Event(ctx, "nope", "lowStock", "reorder", nil)
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))

	assert.Empty(t, f.service.Timeline(session.TimelineFilter{}))
}

func TestRunawaySessionIsDisposed(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.service.Render(ctx, "s1", "spin")
		assert.Equal(t, rterr.CodeTimeout, rterr.CodeOf(err))
	}

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, sess.Status)
	assert.Contains(t, sess.Error, "consecutive timeouts")
	assert.Empty(t, f.engine.Health(ctx).Sessions)

	_, err = f.service.Render(ctx, "s1", "detail")
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))
}

func TestTimeoutStreakResetBySuccess(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	ctx := context.Background()

	_, err := f.service.Render(ctx, "s1", "spin")
	assert.Equal(t, rterr.CodeTimeout, rterr.CodeOf(err))
	_, err = f.service.Render(ctx, "s1", "detail")
	require.NoError(t, err)
	_, err = f.service.Render(ctx, "s1", "spin")
	assert.Equal(t, rterr.CodeTimeout, rterr.CodeOf(err))

	sess, err := f.service.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, sess.Status)
}

func TestRegistryCardsInjectedOnLoad(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.RegisterCard("banner", `{ render: function () { return ui.badge("runtime"); } }`))
	require.NoError(t, f.service.RegisterCard("broken", `{ render: function ( }`))
	require.NoError(t, f.service.RegisterCard("footer", `{ render: function () { return ui.text("end"); } }`))

	res := f.load(t, "s1")
	assert.Equal(t, []string{"banner", "footer"}, res.Injection.Injected)
	require.Len(t, res.Injection.Failed, 1)
	assert.Equal(t, "broken", res.Injection.Failed[0].CardID)
	assert.Equal(t, rterr.CodeRuntime, res.Injection.Failed[0].Code)
	assert.Equal(t, []string{"lowStock", "detail", "spin", "banner", "footer"}, res.Meta.Cards)

	node, err := f.service.Render(context.Background(), "s1", "banner")
	require.NoError(t, err)
	assert.Equal(t, types.Badge("runtime"), node)
}

func TestRegistryCardsBroadcastToReadySessions(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	f.load(t, "s2")
	ctx := context.Background()

	require.NoError(t, f.service.RegisterCard("late", `{ render: function (c) { return ui.text("late " + c.sessionState.filter); } }`))

	for _, sid := range []string{"s1", "s2"} {
		node, err := f.service.Render(ctx, sid, "late")
		require.NoError(t, err, sid)
		assert.Equal(t, types.Text("late all"), node)
	}

	assert.Len(t, f.service.Cards(), 1)
	assert.True(t, f.service.UnregisterCard("late"))
	assert.Empty(t, f.service.Cards())

	// Already injected cards stay
	_, err := f.service.Render(ctx, "s1", "late")
	assert.NoError(t, err)
}

func TestDefineCardRequiresReadySession(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	ctx := context.Background()

	meta, err := f.service.DefineCard(ctx, "s1", "extra", `{ render: function () { return ui.text("x"); } }`)
	require.NoError(t, err)
	assert.Contains(t, meta.Cards, "extra")

	_, err = f.service.DefineCardRender(ctx, "s1", "extra", `function () { return ui.text("y"); }`)
	require.NoError(t, err)
	_, err = f.service.DefineCardHandler(ctx, "s1", "extra", "tap", `function (c) { c.dispatchCardAction("reset"); }`)
	require.NoError(t, err)

	res, err := f.service.Event(ctx, "s1", "extra", "tap", nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, res.Routed[0].Outcome)

	_, err = f.service.DefineCard(ctx, "nope", "extra", `{}`)
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))
}

func TestDisposeAndHealth(t *testing.T) {
	f := newFixture(t)
	f.load(t, "s1")
	f.load(t, "s2")
	ctx := context.Background()

	health := f.service.Health(ctx)
	assert.True(t, health.Runtime.Ready)
	assert.Equal(t, []string{"s1", "s2"}, health.Runtime.Sessions)
	assert.Equal(t, 2, health.Store.Ready)

	assert.True(t, f.service.Dispose(ctx, "s1"))
	assert.False(t, f.service.Dispose(ctx, "s1"))

	health = f.service.Health(ctx)
	assert.Equal(t, []string{"s2"}, health.Runtime.Sessions)
	assert.Equal(t, 1, health.Store.Sessions)
}

func TestServiceOverRemoteRuntime(t *testing.T) {
	engine := sandbox.NewEngine(sandbox.DefaultConfig(), nil)
	clientEnd, workerEnd := rpc.NewPipe()
	go rpc.NewWorker(engine, workerEnd, nil).Serve(context.Background())
	client := rpc.NewClient(clientEnd, nil)
	t.Cleanup(func() { client.Close() })

	f := newFixtureWith(t, client, engine)
	f.load(t, "s1")

	node, err := f.service.Render(context.Background(), "s1", "detail")
	require.NoError(t, err)
	assert.Equal(t, types.Text("filter all"), node)

	res, err := f.service.Event(context.Background(), "s1", "lowStock", "reorder", map[string]interface{}{"sku": "B-2"})
	require.NoError(t, err)
	assert.Len(t, res.Routed, 4)
	assert.Len(t, f.dispatcher.Drain(), 2)
}
