package tools

import (
	"fmt"
	"math"

	"github.com/arborhq/arbor/internal/platform"
)

// ValidateParams checks params against the declared schema: every required
// parameter must be present and non-nil, and every present parameter must
// match its declared semantic type. Defaults are not applied here; see
// ApplyDefaults.
func ValidateParams(schema []platform.ParamSpec, params map[string]any) error {
	for _, spec := range schema {
		value, present := params[spec.Name]
		if !present || value == nil {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", spec.Name)
			}
			continue
		}
		if err := checkType(spec.Type, value); err != nil {
			return fmt.Errorf("parameter %q: %w", spec.Name, err)
		}
	}
	return nil
}

// ApplyDefaults returns params with declared defaults filled in for absent
// optional parameters. The input map is not modified.
func ApplyDefaults(schema []platform.ParamSpec, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, spec := range schema {
		if _, present := out[spec.Name]; !present && spec.Default != nil {
			out[spec.Name] = spec.Default
		}
	}
	return out
}

// checkType maps semantic types onto Go dynamic types. Numbers arriving
// through JSON decode as float64, so integer accepts integral floats.
func checkType(t platform.ParamType, value any) error {
	switch t {
	case platform.TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case platform.TypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != math.Trunc(v) {
				return fmt.Errorf("expected integer, got fractional number %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case platform.TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case platform.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case platform.TypeArray:
		switch value.(type) {
		case []any, []string:
		default:
			return fmt.Errorf("expected array, got %T", value)
		}
	case platform.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", t)
	}
	return nil
}

// IntParam reads an integer parameter, accepting the float64 shape JSON
// decoding produces.
func IntParam(params map[string]any, name string) (int, bool) {
	switch v := params[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// StringParam reads a string parameter.
func StringParam(params map[string]any, name string) (string, bool) {
	s, ok := params[name].(string)
	return s, ok
}
