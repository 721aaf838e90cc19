// Package chainstore persists sampler chains to SQLite so long fits can
// be resumed, inspected mid-run, and post-processed without holding every
// sample in memory.
package chainstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/matisse-tools/diskfit/internal/fit"
)

// ErrNoSamples reports a query against a run with no recorded samples.
var ErrNoSamples = errors.New("chainstore: no samples")

type Store struct {
	*sql.DB
}

// Open opens or creates the chain database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chainstore: open %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			config TEXT
		);
		CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			walker INTEGER NOT NULL,
			logprob DOUBLE NOT NULL,
			theta TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id)
		);
		CREATE INDEX IF NOT EXISTS idx_samples_run_logprob
			ON samples(run_id, logprob);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chainstore: init schema: %w", err)
	}

	return &Store{db}, nil
}

// CreateRun registers a new sampling run and returns its ID. config is
// stored as JSON alongside the run for later inspection.
func (s *Store) CreateRun(config any) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("chainstore: encode run config: %w", err)
	}
	id := uuid.New().String()
	if _, err := s.Exec("INSERT INTO runs (id, config) VALUES (?, ?)", id, string(raw)); err != nil {
		return "", fmt.Errorf("chainstore: create run: %w", err)
	}
	return id, nil
}

// AppendSample stores one walker state.
func (s *Store) AppendSample(runID string, smp fit.Sample) error {
	theta, err := json.Marshal(smp.Theta)
	if err != nil {
		return fmt.Errorf("chainstore: encode theta: %w", err)
	}
	_, err = s.Exec(
		"INSERT INTO samples (run_id, step, walker, logprob, theta) VALUES (?, ?, ?, ?, ?)",
		runID, smp.Step, smp.Walker, smp.LogProb, string(theta),
	)
	if err != nil {
		return fmt.Errorf("chainstore: append sample: %w", err)
	}
	return nil
}

// Recorder adapts the store to the sampler's record callback.
func (s *Store) Recorder(runID string) func(fit.Sample) error {
	return func(smp fit.Sample) error {
		return s.AppendSample(runID, smp)
	}
}

// BestSample returns the highest-probability sample of a run.
func (s *Store) BestSample(runID string) (fit.Sample, error) {
	row := s.QueryRow(
		"SELECT step, walker, logprob, theta FROM samples WHERE run_id = ? ORDER BY logprob DESC LIMIT 1",
		runID,
	)
	var smp fit.Sample
	var theta string
	if err := row.Scan(&smp.Step, &smp.Walker, &smp.LogProb, &theta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fit.Sample{}, fmt.Errorf("%w: run %s", ErrNoSamples, runID)
		}
		return fit.Sample{}, fmt.Errorf("chainstore: best sample: %w", err)
	}
	if err := json.Unmarshal([]byte(theta), &smp.Theta); err != nil {
		return fit.Sample{}, fmt.Errorf("chainstore: decode theta: %w", err)
	}
	return smp, nil
}

// SampleCount returns the number of stored samples for a run.
func (s *Store) SampleCount(runID string) (int, error) {
	var n int
	if err := s.QueryRow("SELECT COUNT(*) FROM samples WHERE run_id = ?", runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("chainstore: count samples: %w", err)
	}
	return n, nil
}

// Samples streams a run's samples in (step, walker) order to fn. A fn
// error stops the scan.
func (s *Store) Samples(runID string, fn func(fit.Sample) error) error {
	rows, err := s.Query(
		"SELECT step, walker, logprob, theta FROM samples WHERE run_id = ? ORDER BY step, walker",
		runID,
	)
	if err != nil {
		return fmt.Errorf("chainstore: query samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var smp fit.Sample
		var theta string
		if err := rows.Scan(&smp.Step, &smp.Walker, &smp.LogProb, &theta); err != nil {
			return fmt.Errorf("chainstore: scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(theta), &smp.Theta); err != nil {
			return fmt.Errorf("chainstore: decode theta: %w", err)
		}
		if err := fn(smp); err != nil {
			return err
		}
	}
	return rows.Err()
}
