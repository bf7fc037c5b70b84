package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

// parseValue reads a command-line value as YAML. Empty input is null.
func parseValue(s string) (wire.Value, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return normalizeValue(v), nil
}

// normalizeValue converts the YAML decoder's int and map types to the ones
// the wire codec produces.
func normalizeValue(v any) wire.Value {
	switch x := v.(type) {
	case int:
		return int64(x)
	case uint64:
		return x
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeValue(val)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	default:
		return v
	}
}

// formatValue renders a value as compact JSON, falling back to %v.
func formatValue(v wire.Value) string {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("0x%x", b)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
