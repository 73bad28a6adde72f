// Package inference aligns raw feature payloads to a fitted schema and runs
// the bundled pipeline on them.
package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

// Payload is the canonical request shape: feature name to value. A missing
// key and an explicit null both mean "missing".
type Payload map[string]any

// Align reorders payload into a schema row.
//
// Keys not in the schema, missing required columns and values of the wrong
// type are all collected into one SchemaMismatchError. Missing optional
// columns become Missing values, which the preprocessor imputes with the
// fitted mean (numeric) or the unknown bucket (categorical).
func Align(s *schema.Schema, payload Payload) (schema.Row, error) {
	var unknown, missing []string
	details := make(map[string]string)

	for key := range payload {
		if s.Index(key) < 0 {
			unknown = append(unknown, key)
		}
	}

	row := make(schema.Row, s.Len())
	for j, col := range s.Columns {
		raw, present := payload[col.Name]
		if !present || raw == nil {
			if col.Required {
				missing = append(missing, col.Name)
			}
			row[j] = schema.Missing()
			continue
		}

		switch col.Kind {
		case schema.Numeric:
			v, err := toFloat(raw)
			if err != nil {
				details[col.Name] = err.Error()
				continue
			}
			row[j] = schema.Num(v)
		case schema.Categorical:
			v, ok := raw.(string)
			if !ok {
				details[col.Name] = fmt.Sprintf("expected string, got %T", raw)
				continue
			}
			row[j] = schema.Cat(v)
		}
	}

	if len(unknown) > 0 || len(missing) > 0 || len(details) > 0 {
		if len(details) == 0 {
			details = nil
		}
		return nil, errors.NewSchemaMismatchError(unknown, missing, details)
	}
	return row, nil
}

func toFloat(raw any) (float64, error) {
	var v float64
	switch x := raw.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, errors.Newf("expected number, got %q", x.String())
		}
		v = f
	default:
		rv := reflect.ValueOf(raw)
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			v = rv.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			v = float64(rv.Uint())
		default:
			return 0, errors.Newf("expected number, got %T", raw)
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Newf("value %v is not finite", v)
	}
	return v, nil
}

// DecodePayload decodes a JSON object of features, keeping numbers exact.
// A body of the form {"features": {...}} is unwrapped.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	if inner, ok := raw["features"].(map[string]any); ok && len(raw) == 1 {
		return Payload(inner), nil
	}
	return Payload(raw), nil
}
