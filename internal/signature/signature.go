// Package signature defines the identity of a declared LLM-backed
// function: its prompt text, input shapes, and output shape. The
// fingerprint derived here keys everything in the alignment store, so any
// change to any field must yield a new fingerprint and orphan old data.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"apprentice/internal/schema"
)

// Signature identifies one declared function.
type Signature struct {
	Name   string               `json:"name" yaml:"name"`
	Prompt string               `json:"prompt" yaml:"prompt"`
	Inputs []*schema.Descriptor `json:"inputs" yaml:"inputs"`
	Output *schema.Descriptor   `json:"output" yaml:"output"`
}

// Validate checks the signature is complete and its descriptors are
// well-formed.
func (s Signature) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("signature requires a name")
	}
	if s.Prompt == "" {
		return fmt.Errorf("signature %q requires prompt text", s.Name)
	}
	for i, in := range s.Inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("signature %q input %d: %w", s.Name, i, err)
		}
	}
	if s.Output == nil {
		return fmt.Errorf("signature %q requires an output descriptor", s.Name)
	}
	if err := s.Output.Validate(); err != nil {
		return fmt.Errorf("signature %q output: %w", s.Name, err)
	}
	return nil
}

// Fingerprint derives the stable identity of the signature. It is a pure
// function: identical (name, prompt, inputs, output) always produce the
// same value, and any field change, including hint text, produces a
// different one.
func (s Signature) Fingerprint() string {
	// encoding/json serializes struct fields in declaration order, so the
	// marshaled form is canonical for a fixed Signature layout.
	canonical, err := json.Marshal(s)
	if err != nil {
		// Descriptors are plain data with no cycles; marshal cannot fail
		// for a validated signature.
		panic(fmt.Sprintf("signature canonicalization failed: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON returns the serialized form persisted alongside the
// fingerprint, used to detect declared-shape mismatches on re-registration.
func (s Signature) CanonicalJSON() string {
	canonical, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("signature canonicalization failed: %v", err))
	}
	return string(canonical)
}
