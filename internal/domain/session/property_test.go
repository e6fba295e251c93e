package session

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

func TestTimelineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one entry per intent up to the cap", prop.ForAll(
		func(actions []string, capSize int) bool {
			policy := capability.DenyAll()
			s := NewStore(WithTimelineCap(capSize))
			if err := s.RegisterSession(RegisterParams{SessionID: "s1", Capabilities: &policy}); err != nil {
				return false
			}
			for _, a := range actions {
				s.IngestIntent("s1", "main", types.CardIntent(a, map[string]interface{}{}))
			}
			want := len(actions)
			if want > capSize {
				want = capSize
			}
			return len(s.Timeline(TimelineFilter{})) == want
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 20),
	))

	properties.Property("patch leaves sibling keys untouched", prop.ForAll(
		func(keys []string, patched string) bool {
			seed := types.State{}
			for _, k := range keys {
				seed[k] = "seed:" + k
			}
			policy := capability.DenyAll()
			s := NewStore()
			_ = s.RegisterSession(RegisterParams{SessionID: "s1", Capabilities: &policy, InitialSessionState: seed})

			s.IngestIntent("s1", "", types.SessionIntent(types.ActionPatch, map[string]interface{}{patched: "new"}))

			snap, err := s.Snapshot("s1", "")
			if err != nil || snap.SessionState[patched] != "new" {
				return false
			}
			for _, k := range keys {
				if k != patched && snap.SessionState[k] != "seed:"+k {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.Identifier(),
	))

	properties.Property("set then read back the dotted path", prop.ForAll(
		func(segments []string, value string) bool {
			if len(segments) == 0 {
				return true
			}
			policy := capability.DenyAll()
			s := NewStore()
			_ = s.RegisterSession(RegisterParams{SessionID: "s1", Capabilities: &policy})

			path := strings.Join(segments, ".")
			res := s.IngestIntent("s1", "c", types.CardIntent(types.ActionSet, map[string]interface{}{"path": path, "value": value}))
			if res.Outcome != types.OutcomeApplied {
				return false
			}

			snap, _ := s.Snapshot("s1", "c")
			var cur interface{} = map[string]interface{}(snap.CardState)
			for _, seg := range segments {
				m, ok := cur.(map[string]interface{})
				if !ok {
					return false
				}
				cur = m[seg]
			}
			return cur == value
		},
		gen.SliceOfN(4, gen.Identifier()),
		gen.AlphaString(),
	))

	properties.Property("denied intents never reach a queue", prop.ForAll(
		func(domains []string) bool {
			policy := capability.Policy{Domain: capability.Only("inventory"), System: capability.None()}
			s := NewStore()
			_ = s.RegisterSession(RegisterParams{SessionID: "s1", Capabilities: &policy})

			allowed := 0
			for _, d := range domains {
				if s.IngestIntent("s1", "c", types.DomainIntent(d, "act", nil)).Outcome == types.OutcomeApplied {
					allowed++
				}
			}
			for _, env := range s.PendingDomainIntents() {
				if env.Domain != "inventory" {
					return false
				}
			}
			return len(s.PendingDomainIntents()) == allowed
		},
		gen.SliceOf(gen.IntRange(0, 2)).Map(func(idx []int) []string {
			names := []string{"inventory", "crm", "billing"}
			out := make([]string, len(idx))
			for i, n := range idx {
				out[i] = names[n]
			}
			return out
		}),
	))

	properties.TestingRun(t)
}
