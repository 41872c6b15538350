package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/hermes"
	"github.com/tzfnuist/ClimWIP/internal/metrics"
	"github.com/tzfnuist/ClimWIP/internal/source"
	"github.com/tzfnuist/ClimWIP/internal/store"
)

type mockStore struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*store.Run
	weights map[uuid.UUID][]*store.ModelWeight
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{runs: make(map[uuid.UUID]*store.Run), weights: make(map[uuid.UUID][]*store.ModelWeight)}
}

func (m *mockStore) CreateRun(_ context.Context, r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}
func (m *mockStore) GetRun(_ context.Context, id uuid.UUID) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}
func (m *mockStore) ListRuns(_ context.Context, _ store.RunFilter) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Run
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}
func (m *mockStore) UpdateRun(_ context.Context, r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.UpdatedAt = time.Now()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}
func (m *mockStore) SaveWeights(_ context.Context, runID uuid.UUID, rows []*store.ModelWeight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.weights[runID] = rows
	return nil
}
func (m *mockStore) GetWeights(_ context.Context, runID uuid.UUID) ([]*store.ModelWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weights[runID], nil
}
func (m *mockStore) GetStats(_ context.Context) (*store.RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &store.RunStats{TotalCompleted: len(m.runs)}, nil
}
func (m *mockStore) Close() error { return nil }

type published struct {
	subject string
	data    interface{}
}

type mockHermes struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]func(string, []byte)
}

func (m *mockHermes) Publish(subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject, data})
	return nil
}
func (m *mockHermes) Subscribe(subject string, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]func(string, []byte))
	}
	m.handlers[subject] = handler
	return nil
}
func (m *mockHermes) Close() {}

func (m *mockHermes) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.published {
		out = append(out, p.subject)
	}
	return out
}

type mapLoader map[string]*source.Input

func (l mapLoader) Load(_ context.Context, ref string) (*source.Input, error) {
	in, ok := l[ref]
	if !ok {
		return nil, ensemble.Configf("unknown input %q", ref)
	}
	return in, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Weighting.NSigmas = 6
	cfg.Weighting.Workers = 2
	return cfg
}

func ensembleInput() *source.Input {
	return &source.Input{
		Models: []string{
			"ACCESS-CM2_r1i1p1f1_CMIP6",
			"CanESM5_r1i1p1f1_CMIP6",
			"CanESM5_r2i1p1f1_CMIP6",
			"MIROC6_r1i1p1f1_CMIP6",
			"MPI-ESM1-2-LR_r1i1p1f1_CMIP6",
			"NorESM2-LM_r1i1p1f1_CMIP6",
		},
		Quality: []source.QualityDiagnostic{
			{Name: "tas_CLIM", Values: ensemble.Values{0.9, 0.4, 0.45, 1.3, 0.6, 0.8}},
		},
		Independence: []source.IndependenceDiagnostic{
			{Name: "tas_CLIM", Matrix: ensemble.Matrix{
				{0, 0.7, 0.72, 0.9, 0.5, 0.6},
				{0.7, 0, 0.1, 0.8, 0.65, 0.75},
				{0.72, 0.1, 0, 0.82, 0.66, 0.74},
				{0.9, 0.8, 0.82, 0, 0.85, 0.95},
				{0.5, 0.65, 0.66, 0.85, 0, 0.4},
				{0.6, 0.75, 0.74, 0.95, 0.4, 0},
			}},
		},
		Target: &source.Target{Values: ensemble.Values{2.1, 3.0, 3.1, 4.2, 2.6, 2.4}},
	}
}

func spreadInput() *source.Input {
	return &source.Input{
		Models: []string{"A_r1i1p1f1_CMIP6", "B_r1i1p1f1_CMIP6", "C_r1i1p1f1_CMIP6"},
		Independence: []source.IndependenceDiagnostic{
			{Name: "tas_CLIM", Matrix: ensemble.Matrix{{0, 0.5, 1}, {0.5, 0, 0.8}, {1, 0.8, 0}}},
		},
		Target: &source.Target{Values: ensemble.Values{0, 1, 100}},
	}
}

func newTestRunner(ms *mockStore, mh *mockHermes, m *metrics.Metrics) *Runner {
	loader := mapLoader{"cmip6": ensembleInput(), "spread": spreadInput()}
	var s store.Store
	if ms != nil {
		s = ms
	}
	var h hermes.Client
	if mh != nil {
		h = mh
	}
	return New(s, h, loader, m, testConfig(), testLogger())
}

func TestExecuteObserved(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	m := metrics.New(prometheus.NewRegistry())
	r := newTestRunner(ms, mh, m)

	run, out, err := r.Execute(context.Background(), Request{Name: "cmip6", InputRef: "cmip6"})
	require.NoError(t, err)
	require.NotNil(t, out.Weights)
	assert.Nil(t, out.Matrix)
	assert.Equal(t, store.ModeObservation, out.Mode)
	assert.Equal(t, 6, len(out.Members))
	assert.Equal(t, 5, out.Models)

	var sum float64
	for _, w := range out.Weights.Weights {
		assert.False(t, math.IsNaN(w))
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	stored, err := ms.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
	assert.NotEqual(t, store.StatusFailed, stored.Status)
	assert.Equal(t, 6, stored.Members)
	require.NotNil(t, stored.SigmaQ)
	assert.Equal(t, out.Calibration.SigmaQ, *stored.SigmaQ)
	assert.Len(t, ms.weights[run.ID], 6)

	subjects := mh.subjects()
	assert.Contains(t, subjects, hermes.SubjectRunStarted(run.ID.String()))
	assert.Contains(t, subjects, hermes.SubjectRunCompleted(run.ID.String()))

	total := testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeCompleted)) +
		testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeDegraded))
	assert.Equal(t, 1.0, total)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.EnsembleMembers))
}

func TestExecutePerfectModel(t *testing.T) {
	ms := newMockStore()
	r := newTestRunner(ms, &mockHermes{}, nil)

	in := ensembleInput()
	in.Quality = nil
	run, out, err := r.Execute(context.Background(), Request{Input: in})
	require.NoError(t, err)
	assert.Equal(t, store.ModePerfectModel, out.Mode)
	require.NotNil(t, out.Matrix)
	assert.Nil(t, out.Weights)

	for m, row := range out.Matrix.Weights {
		assert.True(t, math.IsNaN(row[m]), "own cell of row %d", m)
	}

	rows := ms.weights[run.ID]
	assert.Len(t, rows, 6*5)
	for _, w := range rows {
		assert.NotEqual(t, w.Model, w.PerfectModel)
	}
	assert.Equal(t, store.ModePerfectModel, run.Mode)
}

func TestExecuteObservationFreeConfig(t *testing.T) {
	r := newTestRunner(nil, nil, nil)
	w := testConfig().Weighting
	w.Quality = nil

	_, out, err := r.Execute(context.Background(), Request{InputRef: "cmip6", Weighting: &w})
	require.NoError(t, err)
	assert.Equal(t, store.ModePerfectModel, out.Mode)
}

func TestExecuteBypass(t *testing.T) {
	ms := newMockStore()
	r := newTestRunner(ms, nil, nil)

	in := ensembleInput()
	in.Target = nil
	w := testConfig().Weighting
	sq, si := 0.5, -99.0
	w.SigmaQ, w.SigmaI = &sq, &si

	run, out, err := r.Execute(context.Background(), Request{Input: in, Weighting: &w})
	require.NoError(t, err)
	assert.True(t, out.Calibration.Bypassed)
	assert.Equal(t, 0.5, out.Weights.SigmaQ)
	assert.Nil(t, run.Threshold)
	assert.Equal(t, store.StatusCompleted, run.Status)
}

func TestExecuteMissingTarget(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	m := metrics.New(prometheus.NewRegistry())
	r := newTestRunner(ms, mh, m)

	in := ensembleInput()
	in.Target = nil
	run, _, err := r.Execute(context.Background(), Request{Input: in})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ensemble.ErrConfiguration))
	assert.Equal(t, KindConfiguration, ErrorKind(err))

	stored, _ := ms.GetRun(context.Background(), run.ID)
	assert.Equal(t, store.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
	assert.Contains(t, mh.subjects(), hermes.SubjectRunFailed(run.ID.String()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeRejected)))
}

func TestExecuteCalibrationFailure(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	r := newTestRunner(ms, mh, nil)

	w := testConfig().Weighting
	w.Quality = nil
	w.InsideRatio = "0.5"
	run, _, err := r.Execute(context.Background(), Request{InputRef: "spread", Weighting: &w})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ensemble.ErrCalibration))
	assert.Equal(t, KindCalibration, ErrorKind(err))

	var failed *hermes.RunFailedEvent
	for _, p := range mh.published {
		if evt, ok := p.data.(hermes.RunFailedEvent); ok {
			failed = &evt
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, run.ID.String(), failed.RunID)
	assert.Equal(t, KindCalibration, failed.Kind)
	assert.Empty(t, ms.weights[run.ID])
}

func TestExecuteForceDegraded(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	r := newTestRunner(ms, mh, nil)

	w := testConfig().Weighting
	w.Quality = nil
	run, out, err := r.Execute(context.Background(), Request{InputRef: "spread", Weighting: &w})
	require.NoError(t, err)
	assert.True(t, out.Calibration.Degraded)
	assert.Equal(t, store.StatusDegraded, run.Status)
	assert.Contains(t, mh.subjects(), hermes.SubjectRunDegraded(run.ID.String()))
}

func TestExecuteUnknownInput(t *testing.T) {
	r := newTestRunner(nil, nil, nil)
	_, _, err := r.Execute(context.Background(), Request{InputRef: "missing"})
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, ErrorKind(err))
}

func TestExecuteInvalidWeighting(t *testing.T) {
	r := newTestRunner(nil, nil, nil)
	w := testConfig().Weighting
	w.Independence = nil
	_, _, err := r.Execute(context.Background(), Request{InputRef: "cmip6", Weighting: &w})
	assert.True(t, errors.Is(err, ensemble.ErrConfiguration))
}

func TestSubmitProcessesQueue(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	r := newTestRunner(ms, mh, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx, 2)
	defer r.Stop()

	run, err := r.Submit(ctx, Request{InputRef: "cmip6", Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, run.Status)
	assert.Equal(t, "test", run.Source)

	require.Eventually(t, func() bool {
		stored, _ := ms.GetRun(ctx, run.ID)
		return stored != nil && stored.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	stored, _ := ms.GetRun(ctx, run.ID)
	assert.NotEqual(t, store.StatusFailed, stored.Status, stored.Error)
}

func TestExecuteSaveWeightsFailure(t *testing.T) {
	ms := newMockStore()
	ms.saveErr = errors.New("disk full")
	mh := &mockHermes{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := newTestRunner(ms, mh, m)

	run, out, err := r.Execute(context.Background(), Request{InputRef: "cmip6"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "save weights: disk full")
	assert.Nil(t, out)

	stored, _ := ms.GetRun(context.Background(), run.ID)
	assert.Equal(t, store.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "disk full")

	id := run.ID.String()
	subjects := mh.subjects()
	assert.Contains(t, subjects, hermes.SubjectRunFailed(id))
	assert.NotContains(t, subjects, hermes.SubjectRunCompleted(id))
	assert.NotContains(t, subjects, hermes.SubjectRunDegraded(id))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeCompleted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeDegraded)))
}

func TestStopFailsQueuedRuns(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	r := newTestRunner(ms, mh, nil)

	// No workers are started, so both runs stay queued until Stop.
	first, err := r.Submit(context.Background(), Request{InputRef: "cmip6"})
	require.NoError(t, err)
	second, err := r.Submit(context.Background(), Request{InputRef: "spread"})
	require.NoError(t, err)

	r.Stop()

	for _, run := range []*store.Run{first, second} {
		stored, _ := ms.GetRun(context.Background(), run.ID)
		require.NotNil(t, stored)
		assert.Equal(t, store.StatusFailed, stored.Status)
		assert.Contains(t, stored.Error, context.Canceled.Error())
		assert.NotNil(t, stored.CompletedAt)
		assert.Contains(t, mh.subjects(), hermes.SubjectRunFailed(run.ID.String()))
	}
	assert.Empty(t, r.queue)
}

func TestSubscriptionQueuesRun(t *testing.T) {
	ms := newMockStore()
	mh := &mockHermes{}
	r := newTestRunner(ms, mh, nil)
	r.SetupSubscriptions()

	handler, ok := mh.handlers[hermes.SubjectWeightsRequest]
	require.True(t, ok)

	handler(hermes.SubjectWeightsRequest, []byte(`{"name":"nightly","input_ref":"cmip6"}`))
	handler(hermes.SubjectWeightsRequest, []byte(`not json`))

	runs, _ := ms.ListRuns(context.Background(), store.RunFilter{})
	require.Len(t, runs, 1)
	assert.Equal(t, "nightly", runs[0].Name)
	assert.Equal(t, "hermes", runs[0].Source)
	assert.Equal(t, store.StatusPending, runs[0].Status)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ensemble.Configf("bad"), KindConfiguration},
		{&ensemble.CalibrationError{Threshold: 0.8}, KindCalibration},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
