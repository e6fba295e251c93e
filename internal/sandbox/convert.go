package sandbox

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/schema"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// asPlainObject reports whether v is an object that is neither an array nor
// a function
func asPlainObject(v goja.Value) (*goja.Object, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() == "Array" {
		return nil, false
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return nil, false
	}
	return obj, true
}

// ownFunction returns holder[name] when it is an own enumerable function.
// Inherited members such as toString never match.
func ownFunction(holder goja.Value, name string) (goja.Callable, bool) {
	obj, ok := asPlainObject(holder)
	if !ok {
		return nil, false
	}
	for _, k := range obj.Keys() {
		if k == name {
			return goja.AssertFunction(obj.Get(name))
		}
	}
	return nil, false
}

// accumulator collects intents dispatched by one handler invocation
type accumulator struct {
	vm      *goja.Runtime
	intents []interface{}
}

func (a *accumulator) install(ctx *goja.Object) error {
	fns := map[string]func(goja.FunctionCall) goja.Value{
		"dispatchCardAction": func(call goja.FunctionCall) goja.Value {
			return a.push(map[string]interface{}{
				"scope":      string(types.ScopeCard),
				"actionType": call.Argument(0).Export(),
				"payload":    call.Argument(1).Export(),
			})
		},
		"dispatchSessionAction": func(call goja.FunctionCall) goja.Value {
			return a.push(map[string]interface{}{
				"scope":      string(types.ScopeSession),
				"actionType": call.Argument(0).Export(),
				"payload":    call.Argument(1).Export(),
			})
		},
		"dispatchDomainAction": func(call goja.FunctionCall) goja.Value {
			return a.push(map[string]interface{}{
				"scope":      string(types.ScopeDomain),
				"domain":     call.Argument(0).Export(),
				"actionType": call.Argument(1).Export(),
				"payload":    call.Argument(2).Export(),
			})
		},
		"dispatchSystemCommand": func(call goja.FunctionCall) goja.Value {
			return a.push(map[string]interface{}{
				"scope":   string(types.ScopeSystem),
				"command": call.Argument(0).Export(),
				"payload": call.Argument(1).Export(),
			})
		},
	}
	for name, fn := range fns {
		if err := ctx.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *accumulator) push(intent map[string]interface{}) goja.Value {
	if len(a.intents) >= schema.MaxIntentsPerEvent {
		panic(a.vm.NewTypeError("handler dispatched more than %d intents", schema.MaxIntentsPerEvent))
	}
	a.intents = append(a.intents, intent)
	return goja.Undefined()
}

// readMeta reads what the bundle declared about itself
func readMeta(stackID, sessionID string, bundle, cards *goja.Object) (types.SessionMeta, error) {
	meta := types.SessionMeta{
		SessionID: sessionID,
		StackID:   stackID,
		Cards:     cards.Keys(),
	}
	if meta.Cards == nil {
		meta.Cards = []string{}
	}

	var err error
	if meta.DeclaredID, err = stringField(bundle, "id"); err != nil {
		return meta, err
	}
	if meta.Title, err = stringField(bundle, "title"); err != nil {
		return meta, err
	}
	if meta.Title == "" {
		meta.Title = stackID
	}
	if meta.Description, err = stringField(bundle, "description"); err != nil {
		return meta, err
	}

	sessionState, err := objectField(bundle, "initialSessionState")
	if err != nil {
		return meta, err
	}
	meta.InitialSessionState = sessionState

	cardStates, err := objectField(bundle, "initialCardState")
	if err != nil {
		return meta, err
	}
	if cardStates != nil {
		meta.InitialCardState = make(map[string]types.State, len(cardStates))
		for cardID, raw := range cardStates {
			st, ok := raw.(map[string]interface{})
			if !ok {
				return meta, rterr.New(rterr.CodeRuntime, "initialCardState.%s must be an object", cardID)
			}
			meta.InitialCardState[cardID] = st
		}
	}
	return meta, nil
}

func stringField(obj *goja.Object, key string) (string, error) {
	v := exportValue(obj.Get(key))
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", rterr.New(rterr.CodeRuntime, "bundle %s must be a string", key)
	}
	return s, nil
}

func objectField(obj *goja.Object, key string) (types.State, error) {
	v := exportValue(obj.Get(key))
	if v == nil {
		return nil, nil
	}
	plain, err := schema.PlainValue(v)
	if err != nil {
		return nil, rterr.Wrap(rterr.CodeRuntime, err, "bundle %s is not plain data", key)
	}
	m, ok := plain.(map[string]interface{})
	if !ok {
		return nil, rterr.New(rterr.CodeRuntime, "bundle %s must be an object", key)
	}
	return m, nil
}
