package plugin

import "strings"

// WithDefaults sets every key of defaults that params does not carry.
// A key present with a null value is left as is.
func WithDefaults(params, defaults map[string]any) map[string]any {
	if params == nil {
		params = make(map[string]any, len(defaults))
	}
	for k, v := range defaults {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}
	return params
}

// String returns params[key] as a trimmed string, or "" when absent or not a string.
func String(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

// StringOr is String with a fallback for empty values.
func StringOr(params map[string]any, key, def string) string {
	if s := String(params, key); s != "" {
		return s
	}
	return def
}

// Float returns params[key] as float64. JSON numbers decode to float64; ints
// appear when defaults are applied in code.
func Float(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func Int(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

func Has(params map[string]any, key string) bool {
	v, ok := params[key]
	return ok && v != nil
}
