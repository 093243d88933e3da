// Package schema defines the structural type language for declared
// function inputs and outputs. A Descriptor is ordinary data; validation
// and decoding elsewhere are data-driven recursion over it.
package schema

import (
	"fmt"
	"strings"
)

// Kind enumerates the descriptor node types.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time" // RFC 3339 timestamps
	KindEnum   Kind = "enum" // closed set of string literals
	KindList   Kind = "list"
	KindObject Kind = "object"
)

// Descriptor describes one value shape: a primitive, an enum of literals,
// an ordered sequence, or a record of named typed fields, recursively.
// Hints are documentation for the model and are never enforced during
// validation.
type Descriptor struct {
	Kind     Kind        `json:"kind" yaml:"kind"`
	Hint     string      `json:"hint,omitempty" yaml:"hint,omitempty"`
	Literals []string    `json:"literals,omitempty" yaml:"literals,omitempty"` // enum only
	Elem     *Descriptor `json:"elem,omitempty" yaml:"elem,omitempty"`         // list only
	Fields   []Field     `json:"fields,omitempty" yaml:"fields,omitempty"`     // object only
}

// Field is one named, typed member of an object descriptor.
type Field struct {
	Name string      `json:"name" yaml:"name"`
	Hint string      `json:"hint,omitempty" yaml:"hint,omitempty"`
	Type *Descriptor `json:"type" yaml:"type"`
}

// Constructors for the common shapes.

func String() *Descriptor { return &Descriptor{Kind: KindString} }
func Int() *Descriptor    { return &Descriptor{Kind: KindInt} }
func Float() *Descriptor  { return &Descriptor{Kind: KindFloat} }
func Bool() *Descriptor   { return &Descriptor{Kind: KindBool} }
func Time() *Descriptor   { return &Descriptor{Kind: KindTime} }

func Enum(literals ...string) *Descriptor {
	return &Descriptor{Kind: KindEnum, Literals: literals}
}

func ListOf(elem *Descriptor) *Descriptor {
	return &Descriptor{Kind: KindList, Elem: elem}
}

func Object(fields ...Field) *Descriptor {
	return &Descriptor{Kind: KindObject, Fields: fields}
}

// F builds an object field.
func F(name string, typ *Descriptor) Field {
	return Field{Name: name, Type: typ}
}

// FH builds an object field with a semantic hint.
func FH(name string, typ *Descriptor, hint string) Field {
	return Field{Name: name, Type: typ, Hint: hint}
}

// Hinted returns a copy of d carrying a semantic hint.
func (d *Descriptor) Hinted(hint string) *Descriptor {
	c := *d
	c.Hint = hint
	return &c
}

// Validate checks the descriptor for structural well-formedness.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	switch d.Kind {
	case KindString, KindInt, KindFloat, KindBool, KindTime:
		return nil
	case KindEnum:
		if len(d.Literals) == 0 {
			return fmt.Errorf("enum descriptor requires at least one literal")
		}
		seen := make(map[string]bool, len(d.Literals))
		for _, lit := range d.Literals {
			if seen[lit] {
				return fmt.Errorf("duplicate enum literal %q", lit)
			}
			seen[lit] = true
		}
		return nil
	case KindList:
		if d.Elem == nil {
			return fmt.Errorf("list descriptor requires an element type")
		}
		return d.Elem.Validate()
	case KindObject:
		if len(d.Fields) == 0 {
			return fmt.Errorf("object descriptor requires at least one field")
		}
		seen := make(map[string]bool, len(d.Fields))
		for _, f := range d.Fields {
			if f.Name == "" {
				return fmt.Errorf("object field with empty name")
			}
			if seen[f.Name] {
				return fmt.Errorf("duplicate object field %q", f.Name)
			}
			seen[f.Name] = true
			if err := f.Type.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown descriptor kind %q", d.Kind)
	}
}

// Render produces the human-readable shape description embedded in prompts,
// including per-field semantic hints.
func (d *Descriptor) Render() string {
	var sb strings.Builder
	d.render(&sb, 0)
	return sb.String()
}

func (d *Descriptor) render(sb *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	switch d.Kind {
	case KindString:
		sb.WriteString("string")
	case KindInt:
		sb.WriteString("integer")
	case KindFloat:
		sb.WriteString("number")
	case KindBool:
		sb.WriteString("boolean")
	case KindTime:
		sb.WriteString("timestamp (RFC 3339)")
	case KindEnum:
		quoted := make([]string, len(d.Literals))
		for i, lit := range d.Literals {
			quoted[i] = fmt.Sprintf("%q", lit)
		}
		sb.WriteString("one of ")
		sb.WriteString(strings.Join(quoted, " | "))
	case KindList:
		sb.WriteString("array of ")
		d.Elem.render(sb, depth)
	case KindObject:
		sb.WriteString("{\n")
		for _, f := range d.Fields {
			sb.WriteString(indent)
			sb.WriteString("  ")
			sb.WriteString(fmt.Sprintf("%q: ", f.Name))
			f.Type.render(sb, depth+1)
			if f.Hint != "" {
				sb.WriteString("  // ")
				sb.WriteString(f.Hint)
			}
			sb.WriteString("\n")
		}
		sb.WriteString(indent)
		sb.WriteString("}")
	}
	if d.Hint != "" && d.Kind != KindObject {
		sb.WriteString("  // ")
		sb.WriteString(d.Hint)
	}
}

// JSONSchema renders the descriptor as a JSON Schema document, used as the
// structured-output hint for providers that accept one.
func (d *Descriptor) JSONSchema() string {
	var sb strings.Builder
	d.jsonSchema(&sb)
	return sb.String()
}

func (d *Descriptor) jsonSchema(sb *strings.Builder) {
	switch d.Kind {
	case KindString, KindTime:
		sb.WriteString(`{"type": "string"`)
	case KindInt:
		sb.WriteString(`{"type": "integer"`)
	case KindFloat:
		sb.WriteString(`{"type": "number"`)
	case KindBool:
		sb.WriteString(`{"type": "boolean"`)
	case KindEnum:
		sb.WriteString(`{"type": "string", "enum": [`)
		for i, lit := range d.Literals {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%q", lit)
		}
		sb.WriteString(`]`)
	case KindList:
		sb.WriteString(`{"type": "array", "items": `)
		d.Elem.jsonSchema(sb)
	case KindObject:
		sb.WriteString(`{"type": "object", "additionalProperties": false, "required": [`)
		for i, f := range d.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%q", f.Name)
		}
		sb.WriteString(`], "properties": {`)
		for i, f := range d.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%q: ", f.Name)
			f.Type.jsonSchema(sb)
		}
		sb.WriteString(`}`)
	}
	if d.Hint != "" {
		fmt.Fprintf(sb, `, "description": %q`, d.Hint)
	}
	sb.WriteString(`}`)
}
