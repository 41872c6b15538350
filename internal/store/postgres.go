package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS climwip_runs (
	run_id       UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name         TEXT NOT NULL,
	input_ref    TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT,
	members      INTEGER NOT NULL DEFAULT 0,
	models       INTEGER NOT NULL DEFAULT 0,
	sigma_q      DOUBLE PRECISION,
	sigma_i      DOUBLE PRECISION,
	threshold    DOUBLE PRECISION,
	achieved     DOUBLE PRECISION,
	degraded     BOOLEAN NOT NULL DEFAULT FALSE,
	bypassed     BOOLEAN NOT NULL DEFAULT FALSE,
	calibration  JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS climwip_weights (
	run_id        UUID NOT NULL REFERENCES climwip_runs(run_id) ON DELETE CASCADE,
	model         TEXT NOT NULL,
	perfect_model TEXT NOT NULL DEFAULT '',
	weight        DOUBLE PRECISION,
	weight_q      DOUBLE PRECISION,
	weight_i      DOUBLE PRECISION,
	delta_q       DOUBLE PRECISION,
	PRIMARY KEY (run_id, perfect_model, model)
);

CREATE INDEX IF NOT EXISTS climwip_runs_status_idx ON climwip_runs (status, created_at DESC);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const runColumns = `run_id, name, input_ref, source, mode,
	status, error,
	members, models,
	sigma_q, sigma_i, threshold, achieved, degraded, bypassed, calibration,
	created_at, completed_at, updated_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	calJSON, err := marshalCalibration(run)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO climwip_runs (name, input_ref, source, mode, status, error,
			members, models, sigma_q, sigma_i, threshold, achieved,
			degraded, bypassed, calibration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING run_id, created_at, updated_at`,
		run.Name, run.InputRef, run.Source, run.Mode, run.Status, run.Error,
		run.Members, run.Models, run.SigmaQ, run.SigmaI, run.Threshold, run.Achieved,
		run.Degraded, run.Bypassed, calJSON,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM climwip_runs WHERE run_id = $1`, id)
	r, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM climwip_runs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		n++
		query += fmt.Sprintf(" AND name = $%d", n)
		args = append(args, filter.Name)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *Run) error {
	calJSON, err := marshalCalibration(run)
	if err != nil {
		return err
	}
	return s.pool.QueryRow(ctx, `
		UPDATE climwip_runs SET
			name = $2, input_ref = $3, source = $4, mode = $5,
			status = $6, error = $7,
			members = $8, models = $9,
			sigma_q = $10, sigma_i = $11, threshold = $12, achieved = $13,
			degraded = $14, bypassed = $15, calibration = $16,
			completed_at = $17, updated_at = now()
		WHERE run_id = $1
		RETURNING updated_at`,
		run.ID, run.Name, run.InputRef, run.Source, run.Mode,
		run.Status, run.Error,
		run.Members, run.Models,
		run.SigmaQ, run.SigmaI, run.Threshold, run.Achieved,
		run.Degraded, run.Bypassed, calJSON,
		run.CompletedAt,
	).Scan(&run.UpdatedAt)
}

// SaveWeights replaces the weights of a run in one transaction.
func (s *PostgresStore) SaveWeights(ctx context.Context, runID uuid.UUID, weights []*ModelWeight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM climwip_weights WHERE run_id = $1`, runID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, w := range weights {
		batch.Queue(`
			INSERT INTO climwip_weights (run_id, model, perfect_model, weight, weight_q, weight_i, delta_q)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, w.Model, w.PerfectModel, w.Weight, w.WeightQ, w.WeightI, w.DeltaQ)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert weights: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetWeights(ctx context.Context, runID uuid.UUID) ([]*ModelWeight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, model, perfect_model, weight, weight_q, weight_i, delta_q
		FROM climwip_weights WHERE run_id = $1
		ORDER BY perfect_model ASC, model ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []*ModelWeight
	for rows.Next() {
		w := &ModelWeight{}
		if err := rows.Scan(&w.RunID, &w.Model, &w.PerfectModel, &w.Weight, &w.WeightQ, &w.WeightI, &w.DeltaQ); err != nil {
			return nil, err
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'degraded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) * 1000) FILTER (WHERE completed_at IS NOT NULL), 0)
		FROM climwip_runs`,
	).Scan(&stats.TotalPending, &stats.TotalRunning, &stats.TotalCompleted, &stats.TotalDegraded, &stats.TotalFailed, &stats.AvgDurationMs)
	return stats, err
}

func marshalCalibration(run *Run) ([]byte, error) {
	if run.Calibration == nil {
		return nil, nil
	}
	data, err := json.Marshal(run.Calibration)
	if err != nil {
		return nil, fmt.Errorf("encode calibration: %w", err)
	}
	return data, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	r := &Run{}
	var runError sql.NullString
	var calJSON []byte
	if err := row.Scan(
		&r.ID, &r.Name, &r.InputRef, &r.Source, &r.Mode,
		&r.Status, &runError,
		&r.Members, &r.Models,
		&r.SigmaQ, &r.SigmaI, &r.Threshold, &r.Achieved, &r.Degraded, &r.Bypassed, &calJSON,
		&r.CreatedAt, &r.CompletedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if runError.Valid {
		r.Error = runError.String
	}
	if calJSON != nil {
		if err := json.Unmarshal(calJSON, &r.Calibration); err != nil {
			return nil, fmt.Errorf("decode calibration: %w", err)
		}
	}
	return r, nil
}
