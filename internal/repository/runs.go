// Package repository persists evaluation runs and their per-case results in
// the optional Postgres results store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/internal/evaluator"
)

// RunRecord is the stored header of one evaluation run.
type RunRecord struct {
	ID           string          `json:"id"`
	Experiment   string          `json:"experiment"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Interrupted  bool            `json:"interrupted"`
	TotalCases   int             `json:"total_cases"`
	MatchedCases int             `json:"matched_cases"`
	Summary      json.RawMessage `json:"summary"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CaseRecord is one stored case result.
type CaseRecord struct {
	RunID     string          `json:"run_id"`
	CaseID    string          `json:"case_id"`
	Matched   bool            `json:"matched"`
	Method    string          `json:"method,omitempty"`
	Position  int             `json:"position,omitempty"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunRepository handles run persistence.
type RunRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRunRepository creates a run repository.
func NewRunRepository(db *pgxpool.Pool, logger *logrus.Logger) *RunRepository {
	return &RunRepository{db: db, log: logger}
}

// SaveRun stores the run header plus every case result in one transaction.
func (r *RunRepository) SaveRun(ctx context.Context, out *evaluator.RunOutput) error {
	summary, err := json.Marshal(out.Summary)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning run transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (
			id, experiment, started_at, finished_at, interrupted,
			total_cases, matched_cases, summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		out.RunID,
		out.Experiment,
		out.StartedAt,
		out.FinishedAt,
		out.Interrupted,
		out.Summary.TotalCases,
		out.Summary.MatchedCases,
		summary,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, result := range out.Results {
		detail, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling case result %s: %w", result.CaseID, err)
		}
		method, position := "", 0
		if result.Resolution != nil {
			method = string(result.Resolution.Method)
			position = result.Resolution.Position
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO case_results (
				run_id, case_id, matched, method, position, detail
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			out.RunID, result.CaseID, result.Matched, method, position, detail,
		)
		if err != nil {
			return fmt.Errorf("inserting case result %s: %w", result.CaseID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing run transaction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"run_id": out.RunID,
		"cases":  len(out.Results),
	}).Info("Run persisted")
	return nil
}

// ListRuns returns stored run headers, most recent first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, experiment, started_at, finished_at, interrupted,
		       total_cases, matched_cases, summary, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.Experiment, &rec.StartedAt, &rec.FinishedAt, &rec.Interrupted,
			&rec.TotalCases, &rec.MatchedCases, &rec.Summary, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// GetRun returns a single run header.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := r.db.QueryRow(ctx, `
		SELECT id, experiment, started_at, finished_at, interrupted,
		       total_cases, matched_cases, summary, created_at
		FROM runs
		WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Experiment, &rec.StartedAt, &rec.FinishedAt, &rec.Interrupted,
		&rec.TotalCases, &rec.MatchedCases, &rec.Summary, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return &rec, nil
}

// ListCaseResults returns the stored case results of one run in case order.
func (r *RunRepository) ListCaseResults(ctx context.Context, runID string) ([]CaseRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT run_id, case_id, matched, method, position, detail, created_at
		FROM case_results
		WHERE run_id = $1
		ORDER BY created_at, case_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing case results: %w", err)
	}
	defer rows.Close()

	var records []CaseRecord
	for rows.Next() {
		var rec CaseRecord
		if err := rows.Scan(
			&rec.RunID, &rec.CaseID, &rec.Matched, &rec.Method, &rec.Position,
			&rec.Detail, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning case result row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
