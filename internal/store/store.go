package store

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusDegraded  RunStatus = "degraded"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished, successfully or not.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDegraded || s == StatusFailed
}

type RunMode string

const (
	ModeObservation  RunMode = "observation"
	ModePerfectModel RunMode = "perfect_model"
)

type Run struct {
	ID       uuid.UUID `json:"run_id"`
	Name     string    `json:"name"`
	InputRef string    `json:"input_ref,omitempty"`
	Source   string    `json:"source"`
	Mode     RunMode   `json:"mode"`

	// State
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`

	// Ensemble
	Members int `json:"members"`
	Models  int `json:"models"`

	// Shape parameters and calibration outcome
	SigmaQ      *float64            `json:"sigma_q,omitempty"`
	SigmaI      *float64            `json:"sigma_i,omitempty"`
	Threshold   *float64            `json:"threshold,omitempty"`
	Achieved    *float64            `json:"achieved,omitempty"`
	Degraded    bool                `json:"degraded"`
	Bypassed    bool                `json:"bypassed"`
	Calibration *calibration.Result `json:"calibration,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type RunFilter struct {
	Status *RunStatus
	Name   string
	Limit  int
	Offset int
}

// ModelWeight is one stored weight. PerfectModel is set for observation-free
// runs, where every calibration member is once the surrogate truth.
type ModelWeight struct {
	RunID        uuid.UUID `json:"run_id"`
	Model        string    `json:"model"`
	PerfectModel string    `json:"perfect_model,omitempty"`
	Weight       *float64  `json:"weight"`
	WeightQ      *float64  `json:"weight_q"`
	WeightI      *float64  `json:"weight_i"`
	DeltaQ       *float64  `json:"delta_q,omitempty"`
}

type RunStats struct {
	TotalPending   int     `json:"total_pending"`
	TotalRunning   int     `json:"total_running"`
	TotalCompleted int     `json:"total_completed"`
	TotalDegraded  int     `json:"total_degraded"`
	TotalFailed    int     `json:"total_failed"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
}

type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error

	SaveWeights(ctx context.Context, runID uuid.UUID, weights []*ModelWeight) error
	GetWeights(ctx context.Context, runID uuid.UUID) ([]*ModelWeight, error)

	GetStats(ctx context.Context) (*RunStats, error)

	Close() error
}

// Nullable maps NaN and Inf to nil so they are stored as NULL.
func Nullable(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
