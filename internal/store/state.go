package store

import (
	"database/sql"
	"fmt"

	"apprentice/internal/logging"
)

// StateInfoFor returns the persisted distillation state for a fingerprint.
// A signature with no state row is cold.
func (s *Store) StateInfoFor(fingerprint string) (StateInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info StateInfo
	err := s.db.QueryRow(
		`SELECT state, student_model, last_submission_count, job_id
		 FROM distillation_state WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&info.State, &info.StudentModel, &info.LastSubmissionCount, &info.JobID)
	if err == sql.ErrNoRows {
		return StateInfo{State: StateCold}, nil
	}
	if err != nil {
		return StateInfo{}, fmt.Errorf("failed to read distillation state: %w", err)
	}
	return info, nil
}

// TransitionState applies a compare-and-swap state transition: the update
// takes effect only if the current state equals from. The return value
// reports whether the transition applied, so concurrent writers racing on
// the same trigger resolve to exactly one winner.
func (s *Store) TransitionState(fingerprint string, from, to State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE distillation_state SET state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE fingerprint = ? AND state = ?`,
		to, fingerprint, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	applied := n > 0
	if applied {
		logging.Get(logging.CategoryStore).Infow("distillation state transition",
			"fingerprint", fingerprint, "from", from, "to", to)
	}
	return applied, nil
}

// SetStudentModel persists the fine-tuned model identifier produced by a
// completed distillation job.
func (s *Store) SetStudentModel(fingerprint, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`UPDATE distillation_state SET student_model = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE fingerprint = ?`,
		model, fingerprint,
	); err != nil {
		return fmt.Errorf("failed to set student model: %w", err)
	}
	return nil
}

// MarkSubmission records the job handle and the training-record count at
// the moment a fine-tuning job was submitted. The count gates recovery from
// degraded; the job ID lets a restarted process resume polling.
func (s *Store) MarkSubmission(fingerprint, jobID string, recordCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`UPDATE distillation_state SET last_submission_count = ?, job_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE fingerprint = ?`,
		recordCount, jobID, fingerprint,
	); err != nil {
		return fmt.Errorf("failed to mark submission: %w", err)
	}
	return nil
}

// ClearJob drops the persisted job handle once the job has resolved.
func (s *Store) ClearJob(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`UPDATE distillation_state SET job_id = '', updated_at = CURRENT_TIMESTAMP
		 WHERE fingerprint = ?`,
		fingerprint,
	); err != nil {
		return fmt.Errorf("failed to clear job handle: %w", err)
	}
	return nil
}

// PendingTrainingJobs returns the fine-tuning jobs still awaiting a result,
// so a fresh scheduler can pick up where a previous process left off.
func (s *Store) PendingTrainingJobs() ([]PendingTraining, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT fingerprint, job_id FROM distillation_state
		 WHERE state = ? AND job_id != ''`,
		StateTraining,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var pending []PendingTraining
	for rows.Next() {
		var p PendingTraining
		if err := rows.Scan(&p.Fingerprint, &p.JobID); err != nil {
			return nil, fmt.Errorf("failed to scan pending job: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
