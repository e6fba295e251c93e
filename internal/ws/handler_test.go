package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/rpc"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

const helloBundle = `
defineStackBundle(function (ctx) {
  return {
    title: "Hello",
    cards: {
      home: {
        render: function (c) { return ctx.ui.text("hello " + c.sessionState.name); },
        handlers: {
          close: function (c) { c.dispatchSystemCommand("window.close", { reason: "done" }); }
        }
      }
    }
  };
});
`

func newWorkerServer(t *testing.T) (*sandbox.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := sandbox.NewEngine(sandbox.DefaultConfig(), nil)
	router := gin.New()
	router.GET("/worker", NewHandler(engine, nil).HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		engine.Close()
	})
	return engine, "ws" + strings.TrimPrefix(server.URL, "http") + "/worker"
}

func TestWorkerOverWebSocket(t *testing.T) {
	engine, url := newWorkerServer(t)
	ctx := context.Background()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	client := rpc.NewClient(conn, nil)
	defer client.Close()

	meta, err := client.CreateSession(ctx, "hello", "s1", helloBundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, meta.Cards)

	node, err := client.Render(ctx, "s1", "home", types.StateSnapshot{SessionState: types.State{"name": "ws"}})
	require.NoError(t, err)
	assert.Equal(t, types.Text("hello ws"), node)

	intents, err := client.Event(ctx, "s1", "home", "close", nil, types.StateSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, []types.RuntimeIntent{
		types.SystemIntent("window.close", map[string]interface{}{"reason": "done"}),
	}, intents)

	_, err = client.Render(ctx, "s2", "home", types.StateSnapshot{})
	assert.Equal(t, rterr.CodeSession, rterr.CodeOf(err))

	assert.Equal(t, []string{"s1"}, engine.Health(ctx).Sessions)
}

func TestConnectionCloseDisposesSessions(t *testing.T) {
	engine, url := newWorkerServer(t)
	ctx := context.Background()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	client := rpc.NewClient(conn, nil)

	_, err = client.CreateSession(ctx, "hello", "s1", helloBundle)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return len(engine.Health(ctx).Sessions) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = client.Render(ctx, "s1", "home", types.StateSnapshot{})
	assert.Equal(t, rterr.CodeTransport, rterr.CodeOf(err))
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/worker", nil)
	assert.Error(t, err)
}
