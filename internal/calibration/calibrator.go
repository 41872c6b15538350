package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/weighting"
)

// DefaultSigmas is the default number of grid points per shape parameter.
const DefaultSigmas = 50

// Options control the perfect-model grid search.
type Options struct {
	// SigmaQ and SigmaI pin a shape parameter. Both set bypasses calibration.
	SigmaQ *float64
	SigmaI *float64

	NSigmas     int
	PercLower   float64
	PercUpper   float64
	InsideRatio Threshold

	// EnsembleIndependence fixes sigma_i through the IndependenceEstimator
	// and searches sigma_q alone.
	EnsembleIndependence bool

	Workers int
}

// DefaultOptions returns the 10-90 percentile range with a forced threshold.
func DefaultOptions() Options {
	return Options{
		NSigmas:     DefaultSigmas,
		PercLower:   0.1,
		PercUpper:   0.9,
		InsideRatio: ForceThreshold,
	}
}

func (o Options) Validate() error {
	if o.NSigmas < 1 {
		return ensemble.Configf("n_sigmas must be at least 1, got %d", o.NSigmas)
	}
	if !(o.PercLower >= 0 && o.PercLower < o.PercUpper && o.PercUpper <= 1) {
		return ensemble.Configf("percentiles must satisfy 0 <= lower < upper <= 1, got [%g, %g]", o.PercLower, o.PercUpper)
	}
	if err := o.InsideRatio.Validate(); err != nil {
		return err
	}
	for name, s := range map[string]*float64{"sigma_q": o.SigmaQ, "sigma_i": o.SigmaI} {
		if s == nil || weighting.IsEqualWeighting(*s) {
			continue
		}
		if !(*s > 0) || math.IsInf(*s, 0) {
			return ensemble.Configf("%s must be positive or %g, got %g", name, weighting.EqualWeighting, *s)
		}
	}
	return nil
}

// Input is the ensemble to calibrate on.
type Input struct {
	Members []ensemble.Member
	DeltaI  ensemble.Matrix
	// Target holds one value of the target variable per member.
	Target []float64
	// Subset is the calibration ensemble. Nil means one member per model.
	Subset []ensemble.Member
}

// Result records the chosen shape parameters and the evidence behind them.
type Result struct {
	SigmaQ      float64         `json:"sigma_q"`
	SigmaI      float64         `json:"sigma_i"`
	Models      []string        `json:"models,omitempty"`
	SigmasQ     ensemble.Values `json:"sigmas_q,omitempty"`
	SigmasI     ensemble.Values `json:"sigmas_i,omitempty"`
	InsideRatio ensemble.Matrix `json:"inside_ratio,omitempty"`
	IdxQ        int             `json:"idx_q"`
	IdxI        int             `json:"idx_i"`
	Threshold   float64         `json:"threshold"`
	Achieved    float64         `json:"achieved"`
	Degraded    bool            `json:"degraded"`
	Bypassed    bool            `json:"bypassed"`
}

// Calibrator runs the perfect-model test over a grid of shape parameters.
type Calibrator struct {
	opts      Options
	estimator IndependenceEstimator
	logger    *slog.Logger
}

func NewCalibrator(opts Options, estimator IndependenceEstimator, logger *slog.Logger) *Calibrator {
	if estimator == nil {
		estimator = MemberSpreadEstimator{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Calibrator{opts: opts, estimator: estimator, logger: logger}
}

func (c *Calibrator) Calibrate(ctx context.Context, in Input) (*Result, error) {
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}
	if c.opts.SigmaQ != nil && c.opts.SigmaI != nil {
		c.logger.Info("shape parameters supplied, skipping calibration",
			"sigma_q", *c.opts.SigmaQ, "sigma_i", *c.opts.SigmaI)
		return &Result{SigmaQ: *c.opts.SigmaQ, SigmaI: *c.opts.SigmaI, Bypassed: true}, nil
	}

	n := len(in.Members)
	if err := in.DeltaI.Validate(n); err != nil {
		return nil, fmt.Errorf("delta_i: %w", err)
	}
	if len(in.Target) != n {
		return nil, ensemble.Configf("%d target values for %d members", len(in.Target), n)
	}
	subset := in.Subset
	if subset == nil {
		subset = ensemble.UniqueModels(in.Members)
	}
	if len(subset) < 3 {
		return nil, ensemble.Configf("perfect model test needs at least 3 models, got %d", len(subset))
	}
	idx, err := ensemble.Indices(in.Members, subset)
	if err != nil {
		return nil, err
	}
	deltaI := in.DeltaI.Sub(idx)
	target := ensemble.SubVector(in.Target, idx)

	base := ensemble.NaNMean(ensemble.OffDiagonal(deltaI))
	if !(base > 0) || math.IsInf(base, 0) {
		return nil, ensemble.Configf("cannot derive a sigma range from delta_i (mean %g)", base)
	}
	full := linspace(0.2*base, 2*base, c.opts.NSigmas)

	sigmasQ := full
	if c.opts.SigmaQ != nil {
		sigmasQ = []float64{*c.opts.SigmaQ}
	}
	sigmasI := full
	switch {
	case c.opts.SigmaI != nil:
		sigmasI = []float64{*c.opts.SigmaI}
	case c.opts.EnsembleIndependence:
		s, err := c.estimator.EstimateSigmaI(ctx, in.Members, in.DeltaI, full)
		if err != nil {
			return nil, fmt.Errorf("ensemble independence: %w", err)
		}
		c.logger.Info("sigma_i fixed by ensemble independence", "sigma_i", s)
		sigmasI = []float64{s}
	}

	ratio, err := c.grid(ctx, deltaI, target, sigmasQ, sigmasI)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Models:      ensemble.Keys(subset),
		SigmasQ:     sigmasQ,
		SigmasI:     sigmasI,
		InsideRatio: ratio,
	}
	if err := c.choose(res); err != nil {
		return nil, err
	}
	res.SigmaQ = sigmasQ[res.IdxQ]
	res.SigmaI = sigmasI[res.IdxI]
	res.Achieved = ratio[res.IdxQ][res.IdxI]

	c.logger.Info("calibration complete",
		"sigma_q", res.SigmaQ,
		"sigma_i", res.SigmaI,
		"inside_ratio", res.Achieved,
		"threshold", res.Threshold,
		"models", len(subset),
		"grid", fmt.Sprintf("%dx%d", len(sigmasQ), len(sigmasI)),
	)
	return res, nil
}

func (c *Calibrator) choose(res *Result) error {
	ratio := res.InsideRatio
	if c.opts.InsideRatio.Force {
		res.Threshold = c.opts.PercUpper - c.opts.PercLower
	} else {
		res.Threshold = c.opts.InsideRatio.Value
	}

	ok := passing(ratio, res.Threshold)
	if !anyTrue(ok, c.opts.EnsembleIndependence) {
		if !c.opts.InsideRatio.Force {
			return &ensemble.CalibrationError{MaxRatio: ensemble.NaNMax(ensemble.Flatten(ratio)), Threshold: res.Threshold}
		}
		relaxed := ensemble.NaNMax(ensemble.Flatten(ratio))
		if c.opts.EnsembleIndependence {
			relaxed = ensemble.NaNMax(column(ratio, 0))
		}
		c.logger.Warn("no shape parameters reach the inside ratio, relaxing threshold",
			"threshold", res.Threshold, "achieved", relaxed, "degraded", true)
		res.Threshold = relaxed
		res.Degraded = true
		ok = passing(ratio, relaxed)
	}

	if c.opts.EnsembleIndependence {
		q, found := SelectFixedColumn(ok, 0)
		if !found {
			return &ensemble.CalibrationError{MaxRatio: ensemble.NaNMax(column(ratio, 0)), Threshold: res.Threshold}
		}
		res.IdxQ, res.IdxI = q, 0
		return nil
	}
	q, i, found := SelectSmallestSum(ok)
	if !found {
		return &ensemble.CalibrationError{MaxRatio: ensemble.NaNMax(ensemble.Flatten(ratio)), Threshold: res.Threshold}
	}
	res.IdxQ, res.IdxI = q, i
	return nil
}

// grid evaluates the inside ratio for every (sigma_q, sigma_i) pair. Rows are
// computed concurrently.
func (c *Calibrator) grid(ctx context.Context, deltaI ensemble.Matrix, target, sigmasQ, sigmasI []float64) (ensemble.Matrix, error) {
	nums := make([]ensemble.Matrix, len(sigmasQ))
	for q, s := range sigmasQ {
		// The surrogate truth's distance to every member stands in for delta_q.
		nums[q], _ = weighting.SurrogateTerms(weighting.SimilarityMatrix(deltaI, s), nil, true)
	}
	dens := make([]ensemble.Matrix, len(sigmasI))
	for i, s := range sigmasI {
		equal := weighting.IsEqualWeighting(s)
		var iSim ensemble.Matrix
		if !equal {
			iSim = weighting.SimilarityMatrix(deltaI, s)
		}
		_, dens[i] = weighting.SurrogateTerms(deltaI, iSim, equal)
	}

	ratio := make(ensemble.Matrix, len(sigmasQ))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for q := range sigmasQ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := make([]float64, len(sigmasI))
			for i := range sigmasI {
				row[i] = c.insideRatio(weighting.NormalizeRows(nums[q], dens[i]), target)
			}
			ratio[q] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ratio, nil
}

// insideRatio is the share of surrogate truths that fall inside the weighted
// percentile range of the remaining members.
func (c *Calibrator) insideRatio(weights ensemble.Matrix, target []float64) float64 {
	var inside int
	for m, w := range weights {
		bounds := WeightedQuantiles(target, w, c.opts.PercLower, c.opts.PercUpper)
		if bounds[0] <= target[m] && target[m] <= bounds[1] {
			inside++
		}
	}
	return float64(inside) / float64(len(weights))
}

func anyTrue(ok [][]bool, firstColumnOnly bool) bool {
	for _, row := range ok {
		for i, v := range row {
			if firstColumnOnly && i > 0 {
				break
			}
			if v {
				return true
			}
		}
	}
	return false
}

func column(m ensemble.Matrix, col int) []float64 {
	out := make([]float64, 0, len(m))
	for _, row := range m {
		if col < len(row) {
			out = append(out, row[col])
		}
	}
	return out
}

func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
