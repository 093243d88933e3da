// Package store persists per-signature alignment examples, training
// records, and distillation state in SQLite, keyed by signature
// fingerprint. It is opened once per process and closed on shutdown.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"apprentice/internal/logging"
)

// ErrSignatureMismatch reports that a caller's declared shape disagrees
// with what is already on record for that fingerprint. This should not
// occur given fingerprint semantics; it is a programming error and is
// never retried.
var ErrSignatureMismatch = errors.New("declared signature disagrees with stored record for same fingerprint")

// State is the per-signature distillation lifecycle value.
type State string

const (
	StateCold      State = "cold"
	StateAligned   State = "aligned"
	StateTraining  State = "training"
	StateDistilled State = "distilled"
	StateDegraded  State = "degraded"
)

// Example is one stored alignment assertion, serialized to canonical JSON.
type Example struct {
	Index        int
	InputsJSON   string
	ExpectedJSON string
}

// TrainingRecord is one production call's validated (input, output) pair.
type TrainingRecord struct {
	ID         string
	InputsJSON string
	OutputJSON string
	Model      string
	CreatedAt  time.Time
}

// StateInfo is the persisted distillation state for one signature.
type StateInfo struct {
	State               State
	StudentModel        string
	LastSubmissionCount int64
	JobID               string
}

// PendingTraining identifies a fine-tuning job that was submitted but has
// not resolved yet. Persisted so a restarted process can resume polling.
type PendingTraining struct {
	Fingerprint string
	JobID       string
}

// SignatureInfo summarizes one signature for status listings.
type SignatureInfo struct {
	Fingerprint string
	Name        string
	State       State
	Examples    int64
	Records     int64
}

// Store is the durable alignment store. A single Store is shared by all
// callers; SQLite in WAL mode plus the mutex serialize writers.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open initializes the SQLite database at the given path, creating the
// schema when absent.
func Open(path string) (*Store, error) {
	log := logging.Get(logging.CategoryStore)
	log.Infow("opening alignment store", "path", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debugw("failed to set busy_timeout", "error", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debugw("failed to set journal_mode=WAL", "error", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster for the
	// append-heavy training log.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debugw("failed to set synchronous=NORMAL", "error", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS signatures (
			fingerprint TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			canonical_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS alignment_examples (
			fingerprint TEXT NOT NULL,
			example_index INTEGER NOT NULL,
			inputs_json TEXT NOT NULL,
			expected_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (fingerprint, example_index)
		);`,

		`CREATE TABLE IF NOT EXISTS training_records (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			inputs_json TEXT NOT NULL,
			output_json TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON training_records(fingerprint);`,

		`CREATE TABLE IF NOT EXISTS distillation_state (
			fingerprint TEXT PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'cold',
			student_model TEXT NOT NULL DEFAULT '',
			last_submission_count INTEGER NOT NULL DEFAULT 0,
			job_id TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,

		// Per-call outcomes feed the rolling student failure-rate monitor.
		// Repair-exhausted decode failures land here, never in
		// training_records.
		`CREATE TABLE IF NOT EXISTS call_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL,
			model TEXT NOT NULL,
			student BOOLEAN NOT NULL,
			success BOOLEAN NOT NULL,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_fingerprint ON call_outcomes(fingerprint, student, id);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// EnsureSignature registers a fingerprint on first call and verifies the
// declared shape matches what is on record afterwards.
func (s *Store) EnsureSignature(fingerprint, name, canonicalJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow(
		`SELECT canonical_json FROM signatures WHERE fingerprint = ?`, fingerprint,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// First sighting: create signature and its cold state row.
		if _, err := s.db.Exec(
			`INSERT INTO signatures (fingerprint, name, canonical_json) VALUES (?, ?, ?)`,
			fingerprint, name, canonicalJSON,
		); err != nil {
			return fmt.Errorf("failed to insert signature: %w", err)
		}
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO distillation_state (fingerprint, state) VALUES (?, ?)`,
			fingerprint, StateCold,
		); err != nil {
			return fmt.Errorf("failed to insert state row: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up signature: %w", err)
	}

	if existing != canonicalJSON {
		return fmt.Errorf("%w: fingerprint %s", ErrSignatureMismatch, fingerprint)
	}
	return nil
}

// ListSignatures returns a summary of every known signature.
func (s *Store) ListSignatures() ([]SignatureInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT sig.fingerprint, sig.name, COALESCE(ds.state, 'cold'),
			(SELECT COUNT(*) FROM alignment_examples ae WHERE ae.fingerprint = sig.fingerprint),
			(SELECT COUNT(*) FROM training_records tr WHERE tr.fingerprint = sig.fingerprint)
		FROM signatures sig
		LEFT JOIN distillation_state ds ON ds.fingerprint = sig.fingerprint
		ORDER BY sig.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	defer rows.Close()

	var infos []SignatureInfo
	for rows.Next() {
		var info SignatureInfo
		if err := rows.Scan(&info.Fingerprint, &info.Name, &info.State, &info.Examples, &info.Records); err != nil {
			return nil, fmt.Errorf("failed to scan signature row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Get(logging.CategoryStore).Infow("closing alignment store", "path", s.path)
	return s.db.Close()
}
