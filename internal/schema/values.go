package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
)

// Structural limits applied to every value crossing the boundary
const (
	MaxDepth     = 64
	MaxNodes     = 5000
	MaxListItems = 10000
)

func schemaErr(path, format string, args ...interface{}) *rterr.Error {
	return rterr.New(rterr.CodeSchema, "%s: %s", path, fmt.Sprintf(format, args...)).WithDetail("path", path)
}

// PlainValue deep-copies v, accepting only JSON-compatible data.
// Numbers are normalized to int64 when integral and float64 otherwise.
func PlainValue(v interface{}) (interface{}, error) {
	return plainValue("$", v, 0)
}

func plainValue(path string, v interface{}, depth int) (interface{}, error) {
	if depth > MaxDepth {
		return nil, schemaErr(path, "value nested deeper than %d", MaxDepth)
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return val, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			copied, err := plainValue(path+"."+k, item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = copied
		}
		return out, nil
	case []interface{}:
		if len(val) > MaxListItems {
			return nil, schemaErr(path, "list longer than %d", MaxListItems)
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			copied, err := plainValue(fmt.Sprintf("%s[%d]", path, i), item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = copied
		}
		return out, nil
	}

	if n, ok := toNumber(v); ok {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, schemaErr(path, "number is not finite")
		}
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), nil
		}
		return n, nil
	}

	return nil, schemaErr(path, "unsupported value of type %T", v)
}

// toNumber converts the numeric representations produced by the script engine
// and JSON decoders to float64
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asObject(path string, v interface{}) (map[string]interface{}, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, schemaErr(path, "expected object, got %s", typeName(v))
	}
	return obj, nil
}

func requireString(path string, obj map[string]interface{}, key string) (string, error) {
	s, ok := obj[key].(string)
	if !ok {
		return "", schemaErr(path+"."+key, "expected string, got %s", typeName(obj[key]))
	}
	return s, nil
}

func requireNonEmptyString(path string, obj map[string]interface{}, key string) (string, error) {
	s, err := requireString(path, obj, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", schemaErr(path+"."+key, "must not be empty")
	}
	return s, nil
}

func optionalString(path string, obj map[string]interface{}, key string) (string, error) {
	raw, present := obj[key]
	if !present || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", schemaErr(path+"."+key, "expected string, got %s", typeName(raw))
	}
	return s, nil
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
