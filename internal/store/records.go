package store

import (
	"fmt"

	"github.com/google/uuid"
)

// AppendTrainingRecord appends one validated production call to the
// training log. The log is append-only; duplicates from at-least-once
// delivery are tolerated since records are distillation fuel, not
// correctness-critical state.
func (s *Store) AppendTrainingRecord(fingerprint string, rec TrainingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO training_records (id, fingerprint, inputs_json, output_json, model)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, fingerprint, rec.InputsJSON, rec.OutputJSON, rec.Model,
	); err != nil {
		return fmt.Errorf("failed to append training record: %w", err)
	}
	return nil
}

// CountTrainingRecords reports the number of accumulated records for a
// fingerprint. The distillation scheduler uses this as its trigger.
func (s *Store) CountTrainingRecords(fingerprint string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM training_records WHERE fingerprint = ?`, fingerprint,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count training records: %w", err)
	}
	return count, nil
}

// TrainingRecords returns all records for a fingerprint in append order,
// used to assemble fine-tuning datasets.
func (s *Store) TrainingRecords(fingerprint string) ([]TrainingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, inputs_json, output_json, model, created_at
		 FROM training_records WHERE fingerprint = ? ORDER BY created_at, id`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read training records: %w", err)
	}
	defer rows.Close()

	var records []TrainingRecord
	for rows.Next() {
		var rec TrainingRecord
		if err := rows.Scan(&rec.ID, &rec.InputsJSON, &rec.OutputJSON, &rec.Model, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordOutcome appends one per-call outcome for reliability monitoring.
// Decode failures after exhausted repair are recorded here, never as
// training records.
func (s *Store) RecordOutcome(fingerprint, model string, student, success bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO call_outcomes (fingerprint, model, student, success, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		fingerprint, model, student, success, reason,
	); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// StudentOutcomeWindow returns (failures, total) over the most recent
// student-served calls for a fingerprint, bounded by window.
func (s *Store) StudentOutcomeWindow(fingerprint string, window int) (failures, total int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT success FROM call_outcomes
		 WHERE fingerprint = ? AND student = 1
		 ORDER BY id DESC LIMIT ?`,
		fingerprint, window,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read outcome window: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var success bool
		if err := rows.Scan(&success); err != nil {
			return 0, 0, fmt.Errorf("failed to scan outcome: %w", err)
		}
		total++
		if !success {
			failures++
		}
	}
	return failures, total, rows.Err()
}
