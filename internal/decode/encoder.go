package decode

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"apprentice/internal/schema"
)

// Encode renders a typed value as canonical JSON for the given descriptor.
// Encoded text round-trips through Decode to an equal value. It is used for
// example serialization in prompts, persisted inputs/outputs, and
// fine-tuning datasets.
func Encode(v any, desc *schema.Descriptor) (string, error) {
	norm, err := normalize(v, desc, "")
	if err != nil {
		return "", err
	}
	data, err := marshalCanonical(norm, desc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

// normalize validates a Go value against the descriptor and converts it to
// the JSON-ready representation.
func normalize(v any, desc *schema.Descriptor, path string) (any, error) {
	switch desc.Kind {
	case schema.KindString, schema.KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value at %q: expected string, got %T", path, v)
		}
		if desc.Kind == schema.KindEnum {
			found := false
			for _, lit := range desc.Literals {
				if s == lit {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("value at %q: %q is not an enum literal", path, s)
			}
		}
		return s, nil

	case schema.KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
		return nil, fmt.Errorf("value at %q: expected integer, got %T", path, v)

	case schema.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("value at %q: expected number, got %T", path, v)

	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("value at %q: expected boolean, got %T", path, v)
		}
		return b, nil

	case schema.KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("value at %q: expected time.Time, got %T", path, v)
		}
		return t.Format(time.RFC3339), nil

	case schema.KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("value at %q: expected slice, got %T", path, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			n, err := normalize(item, desc.Elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil

	case schema.KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("value at %q: expected map, got %T", path, v)
		}
		out := make(map[string]any, len(desc.Fields))
		for _, f := range desc.Fields {
			fv, present := obj[f.Name]
			if !present {
				return nil, fmt.Errorf("value at %q: missing field %q", path, f.Name)
			}
			n, err := normalize(fv, f.Type, path+"."+f.Name)
			if err != nil {
				return nil, err
			}
			out[f.Name] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown descriptor kind %q", desc.Kind)
}

// marshalCanonical emits objects with fields in declared descriptor order
// so that identical values always serialize identically.
func marshalCanonical(v any, desc *schema.Descriptor) (string, error) {
	switch desc.Kind {
	case schema.KindObject:
		obj := v.(map[string]any)
		var sb strings.Builder
		sb.WriteString("{")
		for i, f := range desc.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			name, _ := json.Marshal(f.Name)
			sb.Write(name)
			sb.WriteString(": ")
			inner, err := marshalCanonical(obj[f.Name], f.Type)
			if err != nil {
				return "", err
			}
			sb.WriteString(inner)
		}
		sb.WriteString("}")
		return sb.String(), nil

	case schema.KindList:
		items := v.([]any)
		var sb strings.Builder
		sb.WriteString("[")
		for i, item := range items {
			if i > 0 {
				sb.WriteString(", ")
			}
			inner, err := marshalCanonical(item, desc.Elem)
			if err != nil {
				return "", err
			}
			sb.WriteString(inner)
		}
		sb.WriteString("]")
		return sb.String(), nil

	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// EncodeInputs serializes an ordered argument list against its input
// descriptors as a JSON array.
func EncodeInputs(inputs []any, descs []*schema.Descriptor) (string, error) {
	if len(inputs) != len(descs) {
		return "", fmt.Errorf("expected %d inputs, got %d", len(descs), len(inputs))
	}
	parts := make([]string, len(inputs))
	for i, in := range inputs {
		enc, err := Encode(in, descs[i])
		if err != nil {
			return "", fmt.Errorf("input %d: %w", i, err)
		}
		parts[i] = enc
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
