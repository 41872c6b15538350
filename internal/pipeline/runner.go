package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/hermes"
	"github.com/tzfnuist/ClimWIP/internal/metrics"
	"github.com/tzfnuist/ClimWIP/internal/source"
	"github.com/tzfnuist/ClimWIP/internal/store"
)

// ErrQueueFull is returned by Submit when no worker can take the run.
var ErrQueueFull = errors.New("run queue is full")

const (
	queueSize    = 64
	drainTimeout = 10 * time.Second
)

type job struct {
	run *store.Run
	req Request
}

// Runner executes weighting runs and records their lifecycle. Store, hermes
// and metrics are optional.
type Runner struct {
	store     store.Store
	hermes    hermes.Client
	loader    source.Loader
	metrics   *metrics.Metrics
	estimator calibration.IndependenceEstimator
	cfg       *config.Config
	logger    *slog.Logger

	queue chan job

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, h hermes.Client, loader source.Loader, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		store:     s,
		hermes:    h,
		loader:    loader,
		metrics:   m,
		estimator: calibration.MemberSpreadEstimator{},
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan job, queueSize),
		stopCh:    make(chan struct{}),
	}
}

// SetEstimator replaces the ensemble independence estimator.
func (r *Runner) SetEstimator(e calibration.IndependenceEstimator) {
	r.estimator = e
}

// Start launches the queue workers and the stats loop.
func (r *Runner) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	r.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go r.worker(ctx)
	}
	go r.statsLoop(ctx)
}

// Stop waits for the workers and fails every run still queued.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case j := <-r.queue:
			r.finish(ctx, j.run, nil, fmt.Errorf("runner stopped: %w", context.Canceled))
		default:
			return
		}
	}
}

// Execute runs a request synchronously and records it.
func (r *Runner) Execute(ctx context.Context, req Request) (*store.Run, *Outcome, error) {
	run, err := r.createRun(ctx, req, store.StatusRunning)
	if err != nil {
		return nil, nil, err
	}
	r.publish(hermes.SubjectRunStarted(run.ID.String()), hermes.RunStartedEvent{RunID: run.ID.String(), Name: run.Name, Members: run.Members})
	out, err := r.Compute(ctx, req)
	if ferr := r.finish(ctx, run, out, err); ferr != nil {
		return run, nil, ferr
	}
	return run, out, nil
}

// Submit records a pending run and queues it for the workers.
func (r *Runner) Submit(ctx context.Context, req Request) (*store.Run, error) {
	run, err := r.createRun(ctx, req, store.StatusPending)
	if err != nil {
		return nil, err
	}
	queued := *run
	select {
	case r.queue <- job{run: &queued, req: req}:
		r.logger.Info("run queued", "run_id", run.ID, "name", run.Name)
		return run, nil
	default:
		r.finish(ctx, run, nil, ErrQueueFull)
		return run, ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.process(ctx, j)
		}
	}
}

func (r *Runner) process(ctx context.Context, j job) {
	j.run.Status = store.StatusRunning
	if r.store != nil {
		if err := r.store.UpdateRun(ctx, j.run); err != nil {
			r.logger.Warn("failed to mark run running", "run_id", j.run.ID, "error", err)
		}
	}
	r.publish(hermes.SubjectRunStarted(j.run.ID.String()), hermes.RunStartedEvent{RunID: j.run.ID.String(), Name: j.run.Name, Members: j.run.Members})
	out, err := r.Compute(ctx, j.req)
	r.finish(ctx, j.run, out, err)
}

func (r *Runner) createRun(ctx context.Context, req Request, status store.RunStatus) (*store.Run, error) {
	name := req.Name
	if name == "" {
		name = r.cfg.Name
	}
	src := req.Source
	if src == "" {
		src = "manual"
	}
	run := &store.Run{
		Name:     name,
		InputRef: req.InputRef,
		Source:   src,
		Mode:     store.ModeObservation,
		Status:   status,
	}
	if req.Input != nil {
		run.Members = len(req.Input.Models)
		if req.Input.ObservationFree() {
			run.Mode = store.ModePerfectModel
		}
	}
	if r.store == nil {
		run.ID = uuid.New()
		run.CreatedAt = time.Now()
		run.UpdatedAt = run.CreatedAt
		return run, nil
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// finish records the end of a run. A run whose weights cannot be persisted
// is failed. The returned error is runErr or the persistence error.
func (r *Runner) finish(ctx context.Context, run *store.Run, out *Outcome, runErr error) error {
	now := time.Now()
	run.CompletedAt = &now
	if runErr == nil {
		if runErr = r.complete(ctx, run, out); runErr == nil {
			return nil
		}
	}
	r.fail(ctx, run, runErr)
	return runErr
}

func (r *Runner) complete(ctx context.Context, run *store.Run, out *Outcome) error {
	id := run.ID.String()
	cal := out.Calibration
	run.Mode = out.Mode
	run.Members = len(out.Members)
	run.Models = out.Models
	run.SigmaQ, run.SigmaI = &cal.SigmaQ, &cal.SigmaI
	run.Bypassed = cal.Bypassed
	run.Degraded = cal.Degraded
	run.Calibration = cal
	if !cal.Bypassed {
		run.Threshold, run.Achieved = &cal.Threshold, &cal.Achieved
	}
	run.Status = store.StatusCompleted
	if cal.Degraded {
		run.Status = store.StatusDegraded
	}
	if r.store != nil {
		if err := r.store.SaveWeights(ctx, run.ID, out.ModelWeights(run.ID)); err != nil {
			return fmt.Errorf("save weights: %w", err)
		}
	}
	r.update(ctx, run)

	r.publish(hermes.SubjectRunCompleted(id), hermes.RunCompletedEvent{
		RunID:    id,
		Name:     run.Name,
		SigmaQ:   cal.SigmaQ,
		SigmaI:   cal.SigmaI,
		Achieved: cal.Achieved,
		Bypassed: cal.Bypassed,
		Members:  run.Members,
		Models:   run.Models,
	})
	if cal.Degraded {
		r.publish(hermes.SubjectRunDegraded(id), hermes.RunDegradedEvent{RunID: id, Threshold: cal.Threshold, Achieved: cal.Achieved})
		r.metrics.ObserveRun(metrics.OutcomeDegraded)
	} else {
		r.metrics.ObserveRun(metrics.OutcomeCompleted)
	}
	r.logger.Info("run completed",
		"run_id", run.ID,
		"mode", run.Mode,
		"sigma_q", cal.SigmaQ,
		"sigma_i", cal.SigmaI,
		"degraded", cal.Degraded,
	)
	return nil
}

func (r *Runner) fail(ctx context.Context, run *store.Run, runErr error) {
	id := run.ID.String()
	kind := ErrorKind(runErr)
	run.Status = store.StatusFailed
	run.Error = runErr.Error()
	r.logger.Error("run failed", "run_id", run.ID, "kind", kind, "error", runErr)

	evt := hermes.RunFailedEvent{RunID: id, Error: run.Error, Kind: kind}
	var cerr *ensemble.CalibrationError
	if errors.As(runErr, &cerr) && !math.IsNaN(cerr.MaxRatio) && !math.IsInf(cerr.MaxRatio, 0) {
		evt.MaxRatio = cerr.MaxRatio
	}
	r.publish(hermes.SubjectRunFailed(id), evt)
	if kind == KindConfiguration {
		r.metrics.ObserveRun(metrics.OutcomeRejected)
	} else {
		r.metrics.ObserveRun(metrics.OutcomeFailed)
	}
	r.update(ctx, run)
}

func (r *Runner) update(ctx context.Context, run *store.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to update run", "run_id", run.ID, "error", err)
	}
}

func (r *Runner) publish(subject string, data interface{}) {
	if r.hermes == nil {
		return
	}
	if err := r.hermes.Publish(subject, data); err != nil {
		r.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// Error kinds reported in failure events.
const (
	KindConfiguration = "configuration"
	KindCalibration   = "calibration"
	KindCancelled     = "cancelled"
	KindInternal      = "internal"
)

func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ensemble.ErrCalibration):
		return KindCalibration
	case errors.Is(err, ensemble.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
