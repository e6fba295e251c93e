package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, action HostAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func newRouter(t *testing.T, policy capability.Policy) (*Router, *session.Store, *RecordingDispatcher) {
	t.Helper()
	store := session.NewStore()
	require.NoError(t, store.RegisterSession(session.RegisterParams{
		SessionID:    "s1",
		StackID:      "inventory",
		Status:       types.StatusReady,
		Capabilities: &policy,
	}))
	rec := NewRecordingDispatcher()
	return New(store, rec, nil), store, rec
}

func TestRouteDomainIntent(t *testing.T) {
	r, store, rec := newRouter(t, capability.Policy{Domain: capability.Only("inventory"), System: capability.None()})

	res, err := r.Route(context.Background(), "s1", "lowStock", types.DomainIntent("inventory", "reorder", map[string]interface{}{"sku": "A-1"}))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, res.Outcome)
	require.NotNil(t, res.Action)

	want := HostAction{
		Type:    "inventory/reorder",
		Payload: map[string]interface{}{"sku": "A-1"},
		Meta:    ActionMeta{Source: SourcePluginRuntime, SessionID: "s1", CardID: "lowStock"},
	}
	assert.Equal(t, []HostAction{want}, rec.Actions())
	assert.Empty(t, store.PendingDomainIntents())
}

func TestRouteSystemCommands(t *testing.T) {
	tests := []struct {
		name     string
		intent   types.RuntimeIntent
		wantType string
		payload  interface{}
	}{
		{
			name:     "nav.go",
			intent:   types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"cardId": "detail", "param": "A-1"}),
			wantType: ActionNavigate,
			payload:  map[string]interface{}{"cardId": "detail", "param": "A-1"},
		},
		{
			name:     "nav.back",
			intent:   types.SystemIntent(capability.CommandNavBack, nil),
			wantType: ActionGoBack,
		},
		{
			name:     "notify",
			intent:   types.SystemIntent(capability.CommandNotify, map[string]interface{}{"message": "Saved"}),
			wantType: ActionShowToast,
			payload:  map[string]interface{}{"message": "Saved"},
		},
		{
			name:     "window.close",
			intent:   types.SystemIntent(capability.CommandWindowClose, nil),
			wantType: ActionCloseWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, rec := newRouter(t, capability.AllowAll())

			res, err := r.Route(context.Background(), "s1", "main", tt.intent)
			require.NoError(t, err)
			assert.Equal(t, types.OutcomeApplied, res.Outcome)

			actions := rec.Actions()
			require.Len(t, actions, 1)
			assert.Equal(t, tt.wantType, actions[0].Type)
			assert.Equal(t, tt.payload, actions[0].Payload)
			assert.Equal(t, SourcePluginRuntime, actions[0].Meta.Source)
		})
	}
}

func TestRouteUnmappableSystemCommandStillApplied(t *testing.T) {
	r, store, rec := newRouter(t, capability.AllowAll())

	tests := []types.RuntimeIntent{
		types.SystemIntent("theme.toggle", nil),
		types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"param": "x"}),
		types.SystemIntent(capability.CommandNotify, "not an object"),
	}
	for _, intent := range tests {
		res, err := r.Route(context.Background(), "s1", "main", intent)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeApplied, res.Outcome)
		assert.Nil(t, res.Action)
	}

	assert.Empty(t, rec.Actions())
	assert.Len(t, store.Timeline(session.TimelineFilter{Outcome: types.OutcomeApplied}), 3)
}

func TestRouteDeniedWindowCloseNeverDispatched(t *testing.T) {
	d := new(mockDispatcher)
	store := session.NewStore()
	policy := capability.Policy{Domain: capability.None(), System: capability.Only(capability.CommandNavGo)}
	require.NoError(t, store.RegisterSession(session.RegisterParams{SessionID: "s1", Capabilities: &policy}))
	r := New(store, d, nil)

	res, err := r.Route(context.Background(), "s1", "main", types.SystemIntent(capability.CommandWindowClose, nil))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDenied, res.Outcome)
	assert.Equal(t, "system_command_not_allowed:window.close", res.Reason)

	entries := store.Timeline(session.TimelineFilter{SessionID: "s1"})
	require.Len(t, entries, 1)
	assert.Equal(t, types.OutcomeDenied, entries[0].Outcome)

	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRouteLocalIntentNotForwarded(t *testing.T) {
	d := new(mockDispatcher)
	store := session.NewStore()
	require.NoError(t, store.RegisterSession(session.RegisterParams{SessionID: "s1"}))
	r := New(store, d, nil)

	res, err := r.Route(context.Background(), "s1", "main", types.CardIntent(types.ActionPatch, map[string]interface{}{"a": int64(1)}))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, res.Outcome)
	assert.NotEmpty(t, res.EntryID)

	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRouteAllContinuesAfterDispatchError(t *testing.T) {
	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, mock.MatchedBy(func(a HostAction) bool { return a.Type == "inventory/first" })).
		Return(errors.New("host offline")).Once()
	d.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

	store := session.NewStore()
	policy := capability.AllowAll()
	require.NoError(t, store.RegisterSession(session.RegisterParams{SessionID: "s1", Capabilities: &policy}))
	r := New(store, d, nil)

	results, err := r.RouteAll(context.Background(), "s1", "main", []types.RuntimeIntent{
		types.DomainIntent("inventory", "first", nil),
		types.SessionIntent(types.ActionPatch, map[string]interface{}{"x": int64(1)}),
		types.DomainIntent("inventory", "second", nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host offline")
	require.Len(t, results, 3)
	assert.Nil(t, results[0].Action)
	require.NotNil(t, results[2].Action)
	assert.Equal(t, "inventory/second", results[2].Action.Type)
	assert.Len(t, store.Timeline(session.TimelineFilter{}), 3)
}

func TestRecordingDispatcherDrain(t *testing.T) {
	rec := NewRecordingDispatcher()
	require.NoError(t, rec.Dispatch(context.Background(), HostAction{Type: "a/b"}))

	assert.Len(t, rec.Drain(), 1)
	assert.Empty(t, rec.Drain())
}

func TestRecordingDispatcherLimit(t *testing.T) {
	rec := NewRecordingDispatcher().WithLimit(2)
	for _, typ := range []string{"a/1", "a/2", "a/3"} {
		require.NoError(t, rec.Dispatch(context.Background(), HostAction{Type: typ}))
	}

	actions := rec.Drain()
	require.Len(t, actions, 2)
	assert.Equal(t, "a/2", actions[0].Type)
	assert.Equal(t, "a/3", actions[1].Type)
}

func TestRoutedNavigationLeavesNoBacklog(t *testing.T) {
	r, store, rec := newRouter(t, capability.AllowAll())

	for i := 0; i < 50; i++ {
		_, err := r.Route(context.Background(), "s1", "main",
			types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"cardId": "detail"}))
		require.NoError(t, err)
	}

	stats := store.Stats()
	assert.Zero(t, stats.PendingSystem)
	assert.Zero(t, stats.PendingNavigation)
	assert.Len(t, rec.Drain(), 50)
}
