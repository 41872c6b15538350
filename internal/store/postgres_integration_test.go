//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE climwip_weights CASCADE")
		_, _ = s.pool.Exec(ctx, "TRUNCATE climwip_runs CASCADE")
		s.Close()
	})

	return s
}

func f(v float64) *float64 { return &v }

func TestCreateAndGetRun(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{
		Name:     "tas_summer",
		InputRef: "tas.yaml",
		Source:   "api",
		Mode:     ModeObservation,
		Status:   StatusPending,
		Members:  12,
		Models:   8,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("expected non-nil run ID after create")
	}
	if run.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Name != "tas_summer" || got.Mode != ModeObservation || got.Members != 12 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.SigmaQ != nil || got.Calibration != nil {
		t.Error("expected no calibration yet")
	}

	missing, err := s.GetRun(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown run, got %v, %v", missing, err)
	}
}

func TestUpdateRunWithCalibration(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{Name: "pr", Mode: ModeObservation, Status: StatusRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	now := time.Now()
	run.Status = StatusDegraded
	run.SigmaQ, run.SigmaI = f(0.31), f(-99)
	run.Threshold, run.Achieved = f(0.6), f(0.6)
	run.Degraded = true
	run.CompletedAt = &now
	run.Calibration = &calibration.Result{
		SigmaQ:      0.31,
		SigmaI:      -99,
		SigmasQ:     ensemble.Values{0.1, 0.31},
		SigmasI:     ensemble.Values{-99},
		InsideRatio: ensemble.Matrix{{0.4}, {0.6}},
		IdxQ:        1,
		Threshold:   0.6,
		Achieved:    0.6,
		Degraded:    true,
	}
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != StatusDegraded || !got.Degraded {
		t.Errorf("expected degraded run, got %s", got.Status)
	}
	if got.SigmaI == nil || *got.SigmaI != -99 {
		t.Errorf("expected sigma_i -99, got %v", got.SigmaI)
	}
	if got.Calibration == nil || got.Calibration.InsideRatio[1][0] != 0.6 {
		t.Errorf("expected stored inside ratio, got %+v", got.Calibration)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestListRunsWithFilters(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	runs := []*Run{
		{Name: "tas", Mode: ModeObservation, Status: StatusCompleted},
		{Name: "tas", Mode: ModeObservation, Status: StatusFailed},
		{Name: "pr", Mode: ModePerfectModel, Status: StatusCompleted},
	}
	for _, r := range runs {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	result, err := s.ListRuns(ctx, RunFilter{Name: "tas"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected 2 tas runs, got %d", len(result))
	}

	completed := StatusCompleted
	result, err = s.ListRuns(ctx, RunFilter{Status: &completed})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("expected 2 completed runs, got %d", len(result))
	}

	result, err = s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected limit 1, got %d", len(result))
	}
}

func TestSaveAndGetWeights(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{Name: "tas", Mode: ModePerfectModel, Status: StatusRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	weights := []*ModelWeight{
		{Model: "b_r1i1p1f1_CMIP6", PerfectModel: "a_r1i1p1f1_CMIP6", Weight: f(0.7), WeightQ: f(0.9), WeightI: f(1.2)},
		{Model: "c_r1i1p1f1_CMIP6", PerfectModel: "a_r1i1p1f1_CMIP6", Weight: f(0.3), WeightQ: f(0.4), WeightI: f(1.3)},
		{Model: "a_r1i1p1f1_CMIP6", PerfectModel: "b_r1i1p1f1_CMIP6", Weight: nil},
	}
	if err := s.SaveWeights(ctx, run.ID, weights); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}
	// Saving again replaces the previous rows.
	if err := s.SaveWeights(ctx, run.ID, weights); err != nil {
		t.Fatalf("SaveWeights (replace) failed: %v", err)
	}

	got, err := s.GetWeights(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetWeights failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 weights, got %d", len(got))
	}
	if got[0].Model != "b_r1i1p1f1_CMIP6" || *got[0].Weight != 0.7 {
		t.Errorf("unexpected first weight %+v", got[0])
	}
	if got[2].Weight != nil {
		t.Error("expected NULL weight to read back as nil")
	}
}

func TestGetStats(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	done := time.Now()
	for _, st := range []RunStatus{StatusPending, StatusCompleted, StatusDegraded, StatusFailed, StatusFailed} {
		r := &Run{Name: "x", Mode: ModeObservation, Status: st}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if st.Terminal() {
			r.CompletedAt = &done
			if err := s.UpdateRun(ctx, r); err != nil {
				t.Fatalf("UpdateRun failed: %v", err)
			}
		}
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalPending != 1 || stats.TotalCompleted != 1 || stats.TotalDegraded != 1 || stats.TotalFailed != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
