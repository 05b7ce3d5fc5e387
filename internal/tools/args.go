package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StringArg returns args[key] as a trimmed string, or "" when absent or
// not a string.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// RequiredStringArg is StringArg that fails on an empty value.
func RequiredStringArg(args map[string]any, key string) (string, error) {
	s := StringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// OptionalIntArg returns nil when key is absent or null. JSON numbers
// arrive as float64; numeric strings are accepted because smaller models
// quote numbers.
func OptionalIntArg(args map[string]any, key string) (*int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%s must be an integer, got %v", key, x)
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		n = int(i)
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", key, x)
		}
		n = i
	default:
		return nil, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
	return &n, nil
}

// IntArg is OptionalIntArg with a default.
func IntArg(args map[string]any, key string, def int) (int, error) {
	p, err := OptionalIntArg(args, key)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return def, nil
	}
	return *p, nil
}

// ObjectArg returns args[key] as an object. A JSON-encoded string is
// decoded, since models sometimes stringify nested objects.
func ObjectArg(args map[string]any, key string) (map[string]any, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("%s must be an object: %w", key, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s must be an object, got %T", key, v)
	}
}

// ObjectListArg returns args[key] as a list of objects. A single object
// becomes a one-element list and a JSON-encoded string is decoded.
func ObjectListArg(args map[string]any, key string) ([]map[string]any, error) {
	v := args[key]
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("%s must be a list of objects: %w", key, err)
		}
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{x}, nil
	case []map[string]any:
		return x, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be an object, got %T", key, i, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of objects, got %T", key, v)
	}
}
