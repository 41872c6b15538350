package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/diagnostic"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/source"
	"github.com/tzfnuist/ClimWIP/internal/store"
	"github.com/tzfnuist/ClimWIP/internal/weighting"
)

// Request describes one weighting run. Input, when set, is used instead of
// loading InputRef. Weighting, when set, replaces the configured section.
type Request struct {
	Name      string                  `json:"name"`
	InputRef  string                  `json:"input_ref,omitempty"`
	Input     *source.Input           `json:"input,omitempty"`
	Weighting *config.WeightingConfig `json:"weighting,omitempty"`
	Source    string                  `json:"source,omitempty"`
}

// Outcome is everything a run produces. Exactly one of Weights and Matrix is
// set, depending on Mode.
type Outcome struct {
	Mode        store.RunMode                  `json:"mode"`
	Members     []ensemble.Member              `json:"members"`
	Models      int                            `json:"models"`
	Deltas      *diagnostic.Deltas             `json:"deltas"`
	Calibration *calibration.Result            `json:"calibration"`
	Weights     *weighting.Result              `json:"weights,omitempty"`
	Matrix      *weighting.MatrixResult        `json:"weights_matrix,omitempty"`
	Attributes  map[string]weighting.Attribute `json:"attributes"`
}

// Compute runs the full chain for one request: load, deltas, calibration and
// final weights. It persists nothing.
func (r *Runner) Compute(ctx context.Context, req Request) (*Outcome, error) {
	w := r.cfg.Weighting
	if req.Weighting != nil {
		w = *req.Weighting
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("weighting: %w", err)
	}

	in, err := r.input(ctx, req)
	if err != nil {
		return nil, err
	}
	members, err := in.Members()
	if err != nil {
		return nil, err
	}
	n := len(members)
	models := len(ensemble.UniqueModels(members))
	r.metrics.ObserveEnsemble(n, models)

	observed := !w.ObservationFree() && !in.ObservationFree()
	dist := in.Distances()
	var quality diagnostic.Set
	if observed {
		if quality, err = w.QualitySet(); err != nil {
			return nil, err
		}
	} else {
		dist.Quality = nil
	}
	independence, err := w.IndependenceSet()
	if err != nil {
		return nil, err
	}
	deltas, err := diagnostic.ComputeDeltas(n, quality, independence, dist)
	if err != nil {
		return nil, fmt.Errorf("deltas: %w", err)
	}

	opts, err := w.CalibrationOptions()
	if err != nil {
		return nil, err
	}
	var target []float64
	if in.Target != nil {
		if target, err = in.Target.Reduce(n); err != nil {
			return nil, err
		}
	} else if opts.SigmaQ == nil || opts.SigmaI == nil {
		return nil, ensemble.Configf("input has no target: sigma_q and sigma_i must both be supplied")
	}
	subset, err := w.ParseMembers()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cal, err := calibration.NewCalibrator(opts, r.estimator, r.logger).Calibrate(ctx, calibration.Input{
		Members: members,
		DeltaI:  deltas.Independence,
		Target:  target,
		Subset:  subset,
	})
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	r.metrics.ObserveCalibration(time.Since(start), cal)

	out := &Outcome{
		Members:     members,
		Models:      models,
		Deltas:      deltas,
		Calibration: cal,
		Attributes:  weighting.Attributes,
	}
	p := weighting.ShapeParameters{SigmaQ: cal.SigmaQ, SigmaI: cal.SigmaI}
	keys := ensemble.Keys(members)
	if observed {
		out.Mode = store.ModeObservation
		out.Weights, err = weighting.Weights(keys, deltas.Quality, deltas.Independence, p)
	} else {
		// Every member is once the surrogate truth; its distances to the
		// others stand in for delta_q.
		out.Mode = store.ModePerfectModel
		out.Matrix, err = weighting.WeightsMatrix(keys, deltas.Independence, deltas.Independence, p)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) input(ctx context.Context, req Request) (*source.Input, error) {
	if req.Input != nil {
		if err := req.Input.Validate(); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		return req.Input, nil
	}
	if r.loader == nil {
		return nil, ensemble.Configf("no input given and no source configured")
	}
	in, err := r.loader.Load(ctx, req.InputRef)
	if err != nil {
		return nil, fmt.Errorf("load input %q: %w", req.InputRef, err)
	}
	return in, nil
}

// ModelWeights flattens the outcome into storable rows.
func (o *Outcome) ModelWeights(runID uuid.UUID) []*store.ModelWeight {
	var rows []*store.ModelWeight
	if o.Weights != nil {
		res := o.Weights
		for i, model := range res.Members {
			rows = append(rows, &store.ModelWeight{
				RunID:   runID,
				Model:   model,
				Weight:  store.Nullable(res.Weights[i]),
				WeightQ: store.Nullable(res.Numerator[i]),
				WeightI: store.Nullable(res.Denominator[i]),
				DeltaQ:  store.Nullable(res.DeltaQ[i]),
			})
		}
	}
	if o.Matrix != nil {
		res := o.Matrix
		for m, truth := range res.Members {
			for a, model := range res.Members {
				if a == m {
					continue
				}
				rows = append(rows, &store.ModelWeight{
					RunID:        runID,
					Model:        model,
					PerfectModel: truth,
					Weight:       store.Nullable(res.Weights[m][a]),
					WeightQ:      store.Nullable(res.Numerator[m][a]),
					WeightI:      store.Nullable(res.Denominator[m][a]),
					DeltaQ:       store.Nullable(res.DeltaQ[m][a]),
				})
			}
		}
	}
	return rows
}
