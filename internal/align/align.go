// Package align declares alignment suites: curated input/output examples
// that define a signature's expected behavior. Declaring a suite replaces
// the signature's examples wholesale and moves a cold signature to aligned.
package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"apprentice/internal/decode"
	"apprentice/internal/logging"
	"apprentice/internal/signature"
	"apprentice/internal/store"
)

// Assert is one alignment example: concrete inputs paired with the output
// the model is expected to produce for them.
type Assert struct {
	Inputs   []any
	Expected any
}

// Suite is a signature together with its full set of alignment examples.
type Suite struct {
	Signature signature.Signature
	Asserts   []Assert
}

// NewSuite starts a suite for sig.
func NewSuite(sig signature.Signature) *Suite {
	return &Suite{Signature: sig}
}

// Assert appends one example and returns the suite for chaining.
func (s *Suite) Assert(expected any, inputs ...any) *Suite {
	s.Asserts = append(s.Asserts, Assert{Inputs: inputs, Expected: expected})
	return s
}

// Run validates the suite against the declared shapes and persists it,
// replacing any previously declared examples for the signature. Every
// expected value must conform to the output descriptor; a suite with a
// single nonconforming example is rejected whole.
func (s *Suite) Run(st *store.Store) error {
	log := logging.Get(logging.CategoryAlign)

	if err := s.Signature.Validate(); err != nil {
		return err
	}
	fp := s.Signature.Fingerprint()

	examples := make([]store.Example, len(s.Asserts))
	for i, a := range s.Asserts {
		if len(a.Inputs) != len(s.Signature.Inputs) {
			return fmt.Errorf("%s example %d: expected %d inputs, got %d",
				s.Signature.Name, i, len(s.Signature.Inputs), len(a.Inputs))
		}
		inputsJSON, err := decode.EncodeInputs(a.Inputs, s.Signature.Inputs)
		if err != nil {
			return fmt.Errorf("%s example %d: %w", s.Signature.Name, i, err)
		}
		expectedJSON, err := decode.Encode(a.Expected, s.Signature.Output)
		if err != nil {
			return fmt.Errorf("%s example %d: %w", s.Signature.Name, i, err)
		}
		examples[i] = store.Example{Index: i, InputsJSON: inputsJSON, ExpectedJSON: expectedJSON}
	}

	if err := st.EnsureSignature(fp, s.Signature.Name, s.Signature.CanonicalJSON()); err != nil {
		return err
	}
	if err := st.DeclareAlignment(fp, examples); err != nil {
		return err
	}

	log.Infow("alignment declared",
		"signature", s.Signature.Name, "fingerprint", fp, "examples", len(examples))
	return nil
}

// suiteFile is the on-disk YAML form of a suite. Raw inputs and expected
// values are arbitrary YAML nodes decoded into Go values, then validated
// through the same encode path as programmatic suites.
type suiteFile struct {
	Signature signature.Signature `yaml:"signature"`
	Examples  []struct {
		Inputs   []any `yaml:"inputs"`
		Expected any   `yaml:"expected"`
	} `yaml:"examples"`
}

// LoadSuite reads a suite declaration from a YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	var f suiteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}

	s := NewSuite(f.Signature)
	for _, ex := range f.Examples {
		s.Assert(ex.Expected, ex.Inputs...)
	}
	return s, nil
}
