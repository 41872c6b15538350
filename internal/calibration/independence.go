package calibration

import (
	"context"
	"math"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/weighting"
)

// IndependenceEstimator chooses sigma_i from candidates when the ensemble
// contains several members of the same physical model.
type IndependenceEstimator interface {
	EstimateSigmaI(ctx context.Context, members []ensemble.Member, deltaI ensemble.Matrix, candidates []float64) (float64, error)
}

// MemberSpreadEstimator picks the sigma_i under which independence-only
// weights, summed per physical model, come closest to an equal share per
// model.
type MemberSpreadEstimator struct{}

func (MemberSpreadEstimator) EstimateSigmaI(ctx context.Context, members []ensemble.Member, deltaI ensemble.Matrix, candidates []float64) (float64, error) {
	if !ensemble.HasEnsembles(members) {
		return 0, ensemble.Configf("ensemble independence needs at least one model with several members")
	}
	if len(candidates) == 0 {
		return 0, ensemble.Configf("no sigma_i candidates")
	}
	groups := ensemble.GroupByModel(members)
	share := 1 / float64(len(groups))
	zeros := make([]float64, len(members))

	best, bestCost := math.NaN(), math.Inf(1)
	for _, sigma := range candidates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		num, den, err := weighting.Terms(zeros, deltaI, weighting.ShapeParameters{
			SigmaQ: weighting.EqualWeighting,
			SigmaI: sigma,
		})
		if err != nil {
			return 0, err
		}
		w := weighting.Normalize(num, den)

		var cost float64
		for _, g := range groups {
			var sum float64
			for _, idx := range g {
				sum += w[idx]
			}
			cost += (sum - share) * (sum - share)
		}
		if cost < bestCost {
			best, bestCost = sigma, cost
		}
	}
	if math.IsNaN(best) {
		return 0, ensemble.Configf("no sigma_i candidate produced finite weights")
	}
	return best, nil
}
