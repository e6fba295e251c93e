package schema

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// ValidateUINode converts an exported render result into a typed UI tree
func ValidateUINode(v interface{}) (types.UINode, error) {
	count := 0
	return validateNode("$", v, 0, &count)
}

func validateNode(path string, v interface{}, depth int, count *int) (types.UINode, error) {
	if depth > MaxDepth {
		return nil, schemaErr(path, "tree nested deeper than %d", MaxDepth)
	}
	*count++
	if *count > MaxNodes {
		return nil, schemaErr(path, "tree has more than %d nodes", MaxNodes)
	}

	obj, err := asObject(path, v)
	if err != nil {
		return nil, err
	}
	kind, err := requireString(path, obj, "kind")
	if err != nil {
		return nil, err
	}

	switch k := types.NodeKind(kind); k {
	case types.KindPanel, types.KindRow, types.KindColumn:
		return validateContainer(path, k, obj, depth, count)
	case types.KindText, types.KindBadge:
		text, err := requireString(path, obj, "text")
		if err != nil {
			return nil, err
		}
		return &types.TextNode{Type: k, Text: text}, nil
	case types.KindButton:
		return validateButton(path, obj)
	case types.KindInput:
		return validateInput(path, obj)
	case types.KindCounter:
		return validateCounter(path, obj)
	case types.KindTable:
		return validateTable(path, obj)
	default:
		return nil, schemaErr(path+".kind", "unknown node kind %q", kind)
	}
}

func validateContainer(path string, kind types.NodeKind, obj map[string]interface{}, depth int, count *int) (types.UINode, error) {
	node := &types.ContainerNode{Type: kind, Children: []types.UINode{}}

	raw, present := obj["children"]
	if !present || raw == nil {
		return node, nil
	}
	children, ok := raw.([]interface{})
	if !ok {
		return nil, schemaErr(path+".children", "expected array, got %s", typeName(raw))
	}

	for i, child := range children {
		n, err := validateNode(fmt.Sprintf("%s.children[%d]", path, i), child, depth+1, count)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, n)
	}
	return node, nil
}

func props(path string, obj map[string]interface{}) (map[string]interface{}, string, error) {
	p := path + ".props"
	raw, present := obj["props"]
	if !present {
		return nil, p, schemaErr(p, "missing props")
	}
	m, err := asObject(p, raw)
	return m, p, err
}

func validateButton(path string, obj map[string]interface{}) (types.UINode, error) {
	p, pp, err := props(path, obj)
	if err != nil {
		return nil, err
	}
	label, err := requireString(pp, p, "label")
	if err != nil {
		return nil, err
	}
	variant, err := optionalString(pp, p, "variant")
	if err != nil {
		return nil, err
	}
	onClick, err := optionalEventRef(pp, p, "onClick")
	if err != nil {
		return nil, err
	}
	return &types.ButtonNode{
		Type:  types.KindButton,
		Props: types.ButtonProps{Label: label, Variant: variant, OnClick: onClick},
	}, nil
}

func validateInput(path string, obj map[string]interface{}) (types.UINode, error) {
	p, pp, err := props(path, obj)
	if err != nil {
		return nil, err
	}
	value, err := requireString(pp, p, "value")
	if err != nil {
		return nil, err
	}
	placeholder, err := optionalString(pp, p, "placeholder")
	if err != nil {
		return nil, err
	}
	onChange, err := optionalEventRef(pp, p, "onChange")
	if err != nil {
		return nil, err
	}
	return &types.InputNode{
		Type:  types.KindInput,
		Props: types.InputProps{Value: value, Placeholder: placeholder, OnChange: onChange},
	}, nil
}

func validateCounter(path string, obj map[string]interface{}) (types.UINode, error) {
	p, pp, err := props(path, obj)
	if err != nil {
		return nil, err
	}
	value, ok := toNumber(p["value"])
	if !ok {
		return nil, schemaErr(pp+".value", "expected number, got %s", typeName(p["value"]))
	}
	inc, err := optionalEventRef(pp, p, "onIncrement")
	if err != nil {
		return nil, err
	}
	dec, err := optionalEventRef(pp, p, "onDecrement")
	if err != nil {
		return nil, err
	}
	return &types.CounterNode{
		Type:  types.KindCounter,
		Props: types.CounterProps{Value: value, OnIncrement: inc, OnDecrement: dec},
	}, nil
}

func validateTable(path string, obj map[string]interface{}) (types.UINode, error) {
	p, pp, err := props(path, obj)
	if err != nil {
		return nil, err
	}

	rawHeaders, ok := p["headers"].([]interface{})
	if !ok {
		return nil, schemaErr(pp+".headers", "expected array, got %s", typeName(p["headers"]))
	}
	headers := make([]string, len(rawHeaders))
	for i, h := range rawHeaders {
		s, ok := h.(string)
		if !ok {
			return nil, schemaErr(fmt.Sprintf("%s.headers[%d]", pp, i), "expected string, got %s", typeName(h))
		}
		headers[i] = s
	}

	rawRows, ok := p["rows"].([]interface{})
	if !ok {
		return nil, schemaErr(pp+".rows", "expected array, got %s", typeName(p["rows"]))
	}
	if len(rawRows) > MaxListItems {
		return nil, schemaErr(pp+".rows", "more than %d rows", MaxListItems)
	}
	rows := make([][]interface{}, len(rawRows))
	for i, r := range rawRows {
		rowPath := fmt.Sprintf("%s.rows[%d]", pp, i)
		cells, ok := r.([]interface{})
		if !ok {
			return nil, schemaErr(rowPath, "expected array, got %s", typeName(r))
		}
		copied, err := plainValue(rowPath, cells, 1)
		if err != nil {
			return nil, err
		}
		rows[i] = copied.([]interface{})
	}

	return &types.TableNode{
		Type:  types.KindTable,
		Props: types.TableProps{Headers: headers, Rows: rows},
	}, nil
}

func optionalEventRef(path string, obj map[string]interface{}, key string) (*types.EventRef, error) {
	raw, present := obj[key]
	if !present || raw == nil {
		return nil, nil
	}
	p := path + "." + key
	ref, err := asObject(p, raw)
	if err != nil {
		return nil, err
	}
	handler, err := requireNonEmptyString(p, ref, "handler")
	if err != nil {
		return nil, err
	}
	args, err := plainValue(p+".args", ref["args"], 1)
	if err != nil {
		return nil, err
	}
	return &types.EventRef{Handler: handler, Args: args}, nil
}
