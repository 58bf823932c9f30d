package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Parameters holds job inputs. Values are float64 or string; integer
// values supplied by Go callers are accepted by the accessors.
type Parameters map[string]any

// Float returns the numeric value stored under key.
func (p Parameters) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// String returns the string value stored under key.
func (p Parameters) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Keys returns the parameter names in sorted order.
func (p Parameters) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// CheckScalars returns an error naming the first key whose value is neither
// a number nor a string.
func (p Parameters) CheckScalars() error {
	for _, k := range p.Keys() {
		if _, ok := p.Float(k); ok {
			continue
		}
		if _, ok := p.String(k); ok {
			continue
		}
		return fmt.Errorf("parameter %q must be a number or a string, got %T", k, p[k])
	}
	return nil
}
