package store

import (
	"fmt"

	"apprentice/internal/logging"
)

// DeclareAlignment atomically replaces the example set for a fingerprint.
// Partial edits are not supported; re-running a declaration replaces the
// set wholesale. Declaring a non-empty set moves a cold signature to
// aligned; states beyond aligned are left untouched.
func (s *Store) DeclareAlignment(fingerprint string, examples []Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM alignment_examples WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to clear examples: %w", err)
	}

	for i, ex := range examples {
		if _, err := tx.Exec(
			`INSERT INTO alignment_examples (fingerprint, example_index, inputs_json, expected_json)
			 VALUES (?, ?, ?, ?)`,
			fingerprint, i, ex.InputsJSON, ex.ExpectedJSON,
		); err != nil {
			return fmt.Errorf("failed to insert example %d: %w", i, err)
		}
	}

	if len(examples) > 0 {
		if _, err := tx.Exec(
			`UPDATE distillation_state SET state = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE fingerprint = ? AND state = ?`,
			StateAligned, fingerprint, StateCold,
		); err != nil {
			return fmt.Errorf("failed to transition state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alignment declaration: %w", err)
	}

	logging.Get(logging.CategoryStore).Infow("alignment declared",
		"fingerprint", fingerprint, "examples", len(examples))
	return nil
}

// Examples returns the current example set in declaration order; an empty
// slice when none are declared. Reads are local only, never the network.
func (s *Store) Examples(fingerprint string) ([]Example, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT example_index, inputs_json, expected_json
		 FROM alignment_examples WHERE fingerprint = ? ORDER BY example_index`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read examples: %w", err)
	}
	defer rows.Close()

	var examples []Example
	for rows.Next() {
		var ex Example
		if err := rows.Scan(&ex.Index, &ex.InputsJSON, &ex.ExpectedJSON); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}
