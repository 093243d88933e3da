// Package decode parses raw model text into strongly-typed values matching
// a schema.Descriptor. It coerces recognizable primitive representations,
// enforces enum membership exactly, and rejects — never truncates or
// guesses — on missing fields or type mismatches.
package decode

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"apprentice/internal/schema"
)

// Error is a decode failure. It carries the raw model output and the
// specific validation failure so the repair loop can describe the problem
// back to the model and callers can diagnose exhausted repairs.
type Error struct {
	Raw    string // the invalid raw output
	Path   string // location within the value, e.g. "items[2].score"
	Reason string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decode failed at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("decode failed: %s", e.Reason)
}

func fail(raw, path, format string, args ...any) *Error {
	return &Error{Raw: raw, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Decode parses raw model text against the descriptor. The pipeline tries,
// in order: direct JSON, markdown-fence-stripped JSON, embedded JSON
// candidates, and — for primitive and enum shapes only — the bare text as a
// literal value.
func Decode(raw string, desc *schema.Descriptor) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fail(raw, "", "empty response")
	}

	// 1. Direct JSON.
	if v, ok := parseJSON(trimmed); ok {
		return coerce(v, desc, raw, "")
	}

	// 2. Markdown-wrapped JSON (```json ... ```).
	if stripped := stripFences(trimmed); stripped != trimmed {
		if v, ok := parseJSON(stripped); ok {
			return coerce(v, desc, raw, "")
		}
	}

	// 3. JSON embedded in mixed content; try candidates latest-first, since
	// a model that restates its answer puts the corrected value last.
	candidates := findJSONCandidates(trimmed)
	var lastErr error
	for i := len(candidates) - 1; i >= 0; i-- {
		v, ok := parseJSON(candidates[i])
		if !ok {
			continue
		}
		out, err := coerce(v, desc, raw, "")
		if err == nil {
			return out, nil
		}
		lastErr = err
	}

	// 4. Bare literal for scalar shapes: models frequently answer an enum
	// or primitive prompt with the unquoted word alone.
	switch desc.Kind {
	case schema.KindString, schema.KindEnum, schema.KindInt,
		schema.KindFloat, schema.KindBool, schema.KindTime:
		out, err := coerce(trimmed, desc, raw, "")
		if err == nil {
			return out, nil
		}
		if lastErr == nil {
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fail(raw, "", "no JSON value found in response")
}

// parseJSON unmarshals with number preservation so integral values survive
// the trip through interface{}.
func parseJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Trailing garbage after the value means this was not a clean document.
	if dec.More() {
		return nil, false
	}
	return v, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// coerce recursively validates v against desc, converting recognizable
// primitive representations along the way.
func coerce(v any, desc *schema.Descriptor, raw, path string) (any, error) {
	switch desc.Kind {
	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fail(raw, path, "expected string, got %s", typeName(v))
		}
		return s, nil

	case schema.KindInt:
		return coerceInt(v, raw, path)

	case schema.KindFloat:
		return coerceFloat(v, raw, path)

	case schema.KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return nil, fail(raw, path, "expected boolean, got %q", b)
		}
		return nil, fail(raw, path, "expected boolean, got %s", typeName(v))

	case schema.KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fail(raw, path, "expected timestamp string, got %s", typeName(v))
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t, nil
			}
		}
		return nil, fail(raw, path, "cannot parse %q as RFC 3339 timestamp", s)

	case schema.KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fail(raw, path, "expected one of %s, got %s", joinLiterals(desc.Literals), typeName(v))
		}
		s = strings.TrimSpace(s)
		// Membership is exact: no case folding, no substitution.
		for _, lit := range desc.Literals {
			if s == lit {
				return s, nil
			}
		}
		return nil, fail(raw, path, "%q is not one of %s", s, joinLiterals(desc.Literals))

	case schema.KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, fail(raw, path, "expected array, got %s", typeName(v))
		}
		out := make([]any, len(items))
		for i, item := range items {
			elem, err := coerce(item, desc.Elem, raw, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil

	case schema.KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fail(raw, path, "expected object, got %s", typeName(v))
		}
		out := make(map[string]any, len(desc.Fields))
		for _, f := range desc.Fields {
			fv, present := obj[f.Name]
			if !present {
				return nil, fail(raw, path, "missing required field %q", f.Name)
			}
			fieldPath := f.Name
			if path != "" {
				fieldPath = path + "." + f.Name
			}
			cv, err := coerce(fv, f.Type, raw, fieldPath)
			if err != nil {
				return nil, err
			}
			out[f.Name] = cv
		}
		return out, nil

	default:
		return nil, fail(raw, path, "unknown descriptor kind %q", desc.Kind)
	}
}

func coerceInt(v any, raw, path string) (any, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return nil, fail(raw, path, "expected integer, got %s", n.String())
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
		return nil, fail(raw, path, "expected integer, got %v", n)
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, nil
		}
		return nil, fail(raw, path, "expected integer, got %q", n)
	}
	return nil, fail(raw, path, "expected integer, got %s", typeName(v))
}

func coerceFloat(v any, raw, path string) (any, error) {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
		return nil, fail(raw, path, "expected number, got %s", n.String())
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, nil
		}
		return nil, fail(raw, path, "expected number, got %q", n)
	}
	return nil, fail(raw, path, "expected number, got %s", typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, int64, int:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func joinLiterals(literals []string) string {
	quoted := make([]string, len(literals))
	for i, lit := range literals {
		quoted[i] = strconv.Quote(lit)
	}
	return strings.Join(quoted, " | ")
}
