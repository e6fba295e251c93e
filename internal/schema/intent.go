package schema

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// MaxIntentsPerEvent bounds how many intents one handler invocation may emit
const MaxIntentsPerEvent = 256

// ValidateIntents converts an exported intent list into typed intents,
// preserving order
func ValidateIntents(v interface{}) ([]types.RuntimeIntent, error) {
	if v == nil {
		return []types.RuntimeIntent{}, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, schemaErr("$", "expected array of intents, got %s", typeName(v))
	}
	if len(list) > MaxIntentsPerEvent {
		return nil, schemaErr("$", "more than %d intents", MaxIntentsPerEvent)
	}

	intents := make([]types.RuntimeIntent, 0, len(list))
	for i, item := range list {
		intent, err := ValidateIntent(fmt.Sprintf("$[%d]", i), item)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// ValidateIntent converts one exported intent
func ValidateIntent(path string, v interface{}) (types.RuntimeIntent, error) {
	obj, err := asObject(path, v)
	if err != nil {
		return types.RuntimeIntent{}, err
	}
	scope, err := requireString(path, obj, "scope")
	if err != nil {
		return types.RuntimeIntent{}, err
	}
	payload, err := plainValue(path+".payload", obj["payload"], 1)
	if err != nil {
		return types.RuntimeIntent{}, err
	}

	intent := types.RuntimeIntent{Scope: types.IntentScope(scope), Payload: payload}

	switch intent.Scope {
	case types.ScopeCard, types.ScopeSession:
		if intent.ActionType, err = requireNonEmptyString(path, obj, "actionType"); err != nil {
			return types.RuntimeIntent{}, err
		}
	case types.ScopeDomain:
		if intent.Domain, err = requireNonEmptyString(path, obj, "domain"); err != nil {
			return types.RuntimeIntent{}, err
		}
		if intent.ActionType, err = requireNonEmptyString(path, obj, "actionType"); err != nil {
			return types.RuntimeIntent{}, err
		}
	case types.ScopeSystem:
		if intent.Command, err = requireNonEmptyString(path, obj, "command"); err != nil {
			return types.RuntimeIntent{}, err
		}
	default:
		return types.RuntimeIntent{}, schemaErr(path+".scope", "unknown intent scope %q", scope)
	}
	return intent, nil
}
