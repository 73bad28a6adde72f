package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// Hyperparameter values reach SetParams from Go literals, YAML (via viper)
// and JSON, so the same logical value can arrive as int, int64, float64 or
// json.Number. These helpers normalise them and report a ValidationError
// naming the parameter otherwise.

// ParamFloat converts v to float64.
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, errors.NewValidationError(name, "not a number", v)
		}
		return f, nil
	default:
		return 0, errors.NewValidationError(name, fmt.Sprintf("expected number, got %T", v), v)
	}
}

// ParamInt converts v to int. Floats must be integral.
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case uint64:
		return int(x), nil
	}
	f, err := ParamFloat(name, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, errors.NewValidationError(name, "expected integer", v)
	}
	return int(f), nil
}

// ParamOptionalInt is ParamInt where nil (or the string "none") means
// "unlimited" and is returned as -1.
func ParamOptionalInt(name string, v interface{}) (int, error) {
	if v == nil {
		return -1, nil
	}
	if s, ok := v.(string); ok && strings.EqualFold(s, "none") {
		return -1, nil
	}
	return ParamInt(name, v)
}

// ParamString converts v to string.
func ParamString(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(name, fmt.Sprintf("expected string, got %T", v), v)
	}
	return s, nil
}

// ParamBool converts v to bool.
func ParamBool(name string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(name, fmt.Sprintf("expected bool, got %T", v), v)
	}
	return b, nil
}

// UnknownParam is the error for a key an estimator does not recognise.
func UnknownParam(model, name string, v interface{}) error {
	return errors.NewValidationError(name, "unknown parameter for "+model, v)
}

// FormatParams renders params as "k1=v1, k2=v2" with keys sorted, so the
// same parameter set always produces the same string.
func FormatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := params[k]
		if v == nil {
			parts[i] = k + "=none"
			continue
		}
		parts[i] = fmt.Sprintf("%s=%v", k, v)
	}
	return strings.Join(parts, ", ")
}

// CloneParams returns a shallow copy of params.
func CloneParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
