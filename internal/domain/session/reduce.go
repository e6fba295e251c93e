package session

import (
	"strings"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// applyLocal applies a patch/set/reset action to target in place.
// It returns the outcome and, when not applied, the audit reason.
func applyLocal(target types.State, actionType string, payload interface{}) (types.Outcome, string) {
	switch actionType {
	case types.ActionPatch:
		fields, ok := payload.(map[string]interface{})
		if !ok {
			return types.OutcomeIgnored, "invalid_payload:" + actionType
		}
		for k, v := range fields {
			target[k] = cloneValue(v)
		}
		return types.OutcomeApplied, ""

	case types.ActionSet:
		fields, ok := payload.(map[string]interface{})
		if !ok {
			return types.OutcomeIgnored, "invalid_payload:" + actionType
		}
		path, ok := fields["path"].(string)
		if !ok || !validPath(path) {
			return types.OutcomeIgnored, "invalid_payload:" + actionType
		}
		setPath(target, strings.Split(path, "."), cloneValue(fields["value"]))
		return types.OutcomeApplied, ""

	case types.ActionReset:
		for k := range target {
			delete(target, k)
		}
		return types.OutcomeApplied, ""

	default:
		return types.OutcomeIgnored, "unsupported_action:" + actionType
	}
}

func validPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// setPath assigns value at segments, replacing any non-object intermediate
// with a fresh object
func setPath(target types.State, segments []string, value interface{}) {
	cur := target
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = value
}

// CloneState deep-copies a state map. A nil map yields an empty one.
func CloneState(s types.State) types.State {
	out := make(types.State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneCardState(cs map[string]types.State) map[string]types.State {
	out := make(map[string]types.State, len(cs))
	for card, s := range cs {
		out[card] = CloneState(s)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneState(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
