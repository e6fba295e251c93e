package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

func newReadyStore(t *testing.T, policy capability.Policy, opts ...Option) *Store {
	t.Helper()
	s := NewStore(opts...)
	require.NoError(t, s.RegisterSession(RegisterParams{
		SessionID:    "s1",
		StackID:      "inventory",
		Status:       types.StatusReady,
		Capabilities: &policy,
	}))
	return s
}

func TestRegisterSessionDuplicate(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll())
	s.IngestIntent("s1", "main", types.SessionIntent(types.ActionPatch, map[string]interface{}{"a": int64(1)}))

	err := s.RegisterSession(RegisterParams{SessionID: "s1", StackID: "other"})
	require.Error(t, err)
	assert.True(t, rterr.Is(err, rterr.CodeSession))

	sess, ok := s.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "inventory", sess.StackID)
	assert.Equal(t, types.StatusReady, sess.Status)
	assert.Equal(t, types.State{"a": int64(1)}, sess.SessionState)
}

func TestRegisterSessionDefaults(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RegisterSession(RegisterParams{SessionID: "s1", StackID: "x"}))

	sess, _ := s.Session("s1")
	assert.Equal(t, types.StatusLoading, sess.Status)
	assert.False(t, capability.AuthorizeDomain(sess.Capabilities, "inventory").Allowed)
	assert.NotNil(t, sess.SessionState)
	assert.NotNil(t, sess.CardState)
}

func TestSetStatus(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RegisterSession(RegisterParams{SessionID: "s1"}))

	require.NoError(t, s.SetStatus("s1", types.StatusError, "boom"))
	sess, _ := s.Session("s1")
	assert.Equal(t, types.StatusError, sess.Status)
	assert.Equal(t, "boom", sess.Error)

	require.NoError(t, s.SetStatus("s1", types.StatusReady, "ignored"))
	sess, _ = s.Session("s1")
	assert.Empty(t, sess.Error)

	assert.True(t, rterr.Is(s.SetStatus("nope", types.StatusReady, ""), rterr.CodeSession))
}

func TestPatchMergesTopLevelKeys(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())
	require.NoError(t, s.SeedState("s1", nil, map[string]types.State{
		"main": {"qty": int64(1), "name": "widget", "nested": map[string]interface{}{"x": int64(1)}},
	}))

	res := s.IngestIntent("s1", "main", types.CardIntent(types.ActionPatch, map[string]interface{}{"qty": int64(5)}))
	assert.Equal(t, types.OutcomeApplied, res.Outcome)

	snap, err := s.Snapshot("s1", "main")
	require.NoError(t, err)
	assert.Equal(t, types.State{
		"qty":    int64(5),
		"name":   "widget",
		"nested": map[string]interface{}{"x": int64(1)},
	}, snap.CardState)
}

func TestSetCreatesIntermediateContainers(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())

	res := s.IngestIntent("s1", "main", types.CardIntent(types.ActionSet, map[string]interface{}{
		"path":  "edits.title",
		"value": "Hello",
	}))
	assert.Equal(t, types.OutcomeApplied, res.Outcome)

	snap, _ := s.Snapshot("s1", "main")
	assert.Equal(t, types.State{"edits": map[string]interface{}{"title": "Hello"}}, snap.CardState)
}

func TestSetReplacesScalarIntermediate(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())
	s.IngestIntent("s1", "", types.SessionIntent(types.ActionPatch, map[string]interface{}{"a": "scalar"}))

	s.IngestIntent("s1", "", types.SessionIntent(types.ActionSet, map[string]interface{}{"path": "a.b", "value": true}))

	snap, _ := s.Snapshot("s1", "")
	assert.Equal(t, map[string]interface{}{"b": true}, snap.SessionState["a"])
}

func TestResetClearsAllKeys(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())
	require.NoError(t, s.SeedState("s1", types.State{"a": int64(1), "b": "x"}, nil))

	res := s.IngestIntent("s1", "main", types.SessionIntent(types.ActionReset, nil))
	assert.Equal(t, types.OutcomeApplied, res.Outcome)

	snap, _ := s.Snapshot("s1", "main")
	assert.Empty(t, snap.SessionState)
}

func TestLocalIntentIgnored(t *testing.T) {
	tests := []struct {
		name   string
		intent types.RuntimeIntent
		reason string
	}{
		{
			name:   "unknown action",
			intent: types.CardIntent("merge", map[string]interface{}{}),
			reason: "unsupported_action:merge",
		},
		{
			name:   "patch with non-object",
			intent: types.CardIntent(types.ActionPatch, "nope"),
			reason: "invalid_payload:patch",
		},
		{
			name:   "set without path",
			intent: types.SessionIntent(types.ActionSet, map[string]interface{}{"value": int64(1)}),
			reason: "invalid_payload:set",
		},
		{
			name:   "set with empty segment",
			intent: types.SessionIntent(types.ActionSet, map[string]interface{}{"path": "a..b", "value": int64(1)}),
			reason: "invalid_payload:set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newReadyStore(t, capability.DenyAll())
			res := s.IngestIntent("s1", "main", tt.intent)
			assert.Equal(t, types.OutcomeIgnored, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Len(t, s.Timeline(TimelineFilter{}), 1)
		})
	}
}

func TestMissingSessionDenied(t *testing.T) {
	s := NewStore()

	res := s.IngestIntent("ghost", "main", types.CardIntent(types.ActionPatch, map[string]interface{}{}))
	assert.Equal(t, types.OutcomeDenied, res.Outcome)
	assert.Equal(t, "missing_session:ghost", res.Reason)

	entries := s.Timeline(TimelineFilter{})
	require.Len(t, entries, 1)
	assert.Equal(t, "ghost", entries[0].SessionID)
}

func TestDomainIntentAuthorization(t *testing.T) {
	s := newReadyStore(t, capability.Policy{Domain: capability.Only("inventory"), System: capability.None()})

	allowed := s.IngestIntent("s1", "lowStock", types.DomainIntent("inventory", "reorder", map[string]interface{}{"sku": "A-1"}))
	assert.Equal(t, types.OutcomeApplied, allowed.Outcome)
	require.NotEmpty(t, allowed.EnvelopeID)

	denied := s.IngestIntent("s1", "lowStock", types.DomainIntent("crm", "delete", nil))
	assert.Equal(t, types.OutcomeDenied, denied.Outcome)
	assert.Equal(t, "domain_not_allowed:crm", denied.Reason)
	assert.Empty(t, denied.EnvelopeID)

	pending := s.PendingDomainIntents()
	require.Len(t, pending, 1)
	assert.Equal(t, "inventory", pending[0].Domain)
	assert.Equal(t, "reorder", pending[0].ActionType)
	assert.Equal(t, "lowStock", pending[0].CardID)

	env, ok := s.TakeDomainIntent(allowed.EnvelopeID)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"sku": "A-1"}, env.Payload)
	assert.Empty(t, s.PendingDomainIntents())

	_, ok = s.TakeDomainIntent(allowed.EnvelopeID)
	assert.False(t, ok)
}

func TestSystemIntentDeniedWindowClose(t *testing.T) {
	s := newReadyStore(t, capability.Policy{Domain: capability.None(), System: capability.Only(capability.CommandNavGo)})

	res := s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandWindowClose, nil))
	assert.Equal(t, types.OutcomeDenied, res.Outcome)
	assert.Equal(t, "system_command_not_allowed:window.close", res.Reason)
	assert.Empty(t, s.PendingSystemIntents())

	entries := s.Timeline(TimelineFilter{Outcome: types.OutcomeDenied})
	require.Len(t, entries, 1)
	assert.Equal(t, capability.CommandWindowClose, entries[0].Command)
}

func TestNavigationQueue(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll())

	nav := s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"cardId": "detail"}))
	s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandNotify, map[string]interface{}{"message": "hi"}))

	assert.Len(t, s.PendingSystemIntents(), 2)
	require.Len(t, s.PendingNavigationIntents(), 1)

	drained := s.DrainNavigationIntents()
	require.Len(t, drained, 1)
	assert.Equal(t, nav.EnvelopeID, drained[0].ID)
	assert.Empty(t, s.DrainNavigationIntents())

	_, ok := s.TakeSystemIntent(nav.EnvelopeID)
	assert.True(t, ok)
	assert.Len(t, s.PendingSystemIntents(), 1)
}

func TestTakeSystemIntentRemovesNavigationCopy(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll())

	nav := s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"cardId": "detail"}))
	back := s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandNavBack, nil))

	_, ok := s.TakeSystemIntent(nav.EnvelopeID)
	require.True(t, ok)

	pending := s.PendingNavigationIntents()
	require.Len(t, pending, 1)
	assert.Equal(t, back.EnvelopeID, pending[0].ID)
}

func TestQueueCapEvictsOldest(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll(), WithQueueCap(3))

	var ids []string
	for i := 0; i < 5; i++ {
		res := s.IngestIntent("s1", "main", types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"i": int64(i)}))
		s.IngestIntent("s1", "main", types.DomainIntent("inventory", "touched", nil))
		ids = append(ids, res.EnvelopeID)
	}

	stats := s.Stats()
	assert.Equal(t, 3, stats.PendingDomain)
	assert.Equal(t, 3, stats.PendingSystem)
	assert.Equal(t, 3, stats.PendingNavigation)

	pending := s.PendingNavigationIntents()
	assert.Equal(t, ids[2], pending[0].ID)
	assert.Equal(t, ids[4], pending[2].ID)

	_, ok := s.TakeSystemIntent(ids[0])
	assert.False(t, ok, "evicted envelopes are gone")
}

func TestRemoveSessionPurgesQueues(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll())
	other := capability.AllowAll()
	require.NoError(t, s.RegisterSession(RegisterParams{SessionID: "s2", Status: types.StatusReady, Capabilities: &other}))

	s.IngestIntent("s1", "c", types.DomainIntent("inventory", "a", nil))
	s.IngestIntent("s1", "c", types.SystemIntent(capability.CommandNavBack, nil))
	s.IngestIntent("s2", "c", types.DomainIntent("inventory", "b", nil))

	assert.True(t, s.RemoveSession("s1"))
	assert.False(t, s.RemoveSession("s1"))

	domain := s.PendingDomainIntents()
	require.Len(t, domain, 1)
	assert.Equal(t, "s2", domain[0].SessionID)
	assert.Empty(t, s.PendingSystemIntents())
	assert.Empty(t, s.PendingNavigationIntents())

	_, ok := s.Session("s1")
	assert.False(t, ok)
}

func TestTimelineCapEvictsOldest(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll(), WithTimelineCap(3))

	for i := 0; i < 5; i++ {
		s.IngestIntent("s1", "main", types.CardIntent(types.ActionPatch, map[string]interface{}{"i": int64(i)}))
	}

	entries := s.Timeline(TimelineFilter{})
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]interface{}{"i": int64(2)}, entries[0].Payload)
	assert.Equal(t, map[string]interface{}{"i": int64(4)}, entries[2].Payload)

	limited := s.Timeline(TimelineFilter{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, entries[2].ID, limited[0].ID)
}

func TestSessionReturnsCopy(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())
	s.IngestIntent("s1", "main", types.CardIntent(types.ActionSet, map[string]interface{}{"path": "a.b", "value": int64(1)}))

	sess, _ := s.Session("s1")
	sess.CardState["main"]["a"].(map[string]interface{})["b"] = int64(99)

	snap, _ := s.Snapshot("s1", "main")
	assert.Equal(t, map[string]interface{}{"b": int64(1)}, snap.CardState["a"])
}

func TestSnapshotGlobalState(t *testing.T) {
	s := newReadyStore(t, capability.DenyAll())

	snap, err := s.Snapshot("s1", "main")
	require.NoError(t, err)
	assert.Empty(t, snap.CardState)
	assert.Equal(t, map[string]interface{}{
		"s1": map[string]interface{}{"stackId": "inventory", "status": "ready"},
	}, snap.GlobalState["sessions"])

	_, err = s.Snapshot("missing", "main")
	assert.True(t, rterr.Is(err, rterr.CodeSession))
}

func TestStats(t *testing.T) {
	s := newReadyStore(t, capability.AllowAll())
	require.NoError(t, s.RegisterSession(RegisterParams{SessionID: "s2"}))
	s.IngestIntent("s1", "c", types.SystemIntent(capability.CommandNavGo, map[string]interface{}{"cardId": "x"}))

	stats := s.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, 1, stats.Loading)
	assert.Equal(t, 1, stats.TimelineEntries)
	assert.Equal(t, 1, stats.PendingSystem)
	assert.Equal(t, 1, stats.PendingNavigation)

	assert.Equal(t, []string{"s1", "s2"}, s.SessionIDs())
	assert.Equal(t, []string{"s1"}, s.ReadySessionIDs())
}
