package calibration

import (
	"math"
	"sort"
)

// WeightedQuantiles returns the weighted quantiles qs (fractions in [0,1])
// of values. Pairs with a NaN value or weight are dropped. The cumulative
// weight of each sorted value is taken at its midpoint and rescaled to
// [0,1]; quantiles are interpolated linearly and clamped to the data range.
// All results are NaN when fewer than two pairs carry weight.
func WeightedQuantiles(values, weights []float64, qs ...float64) []float64 {
	type pair struct{ v, w float64 }
	pairs := make([]pair, 0, len(values))
	for i, v := range values {
		if i >= len(weights) || math.IsNaN(v) || math.IsNaN(weights[i]) {
			continue
		}
		pairs = append(pairs, pair{v, weights[i]})
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].v < pairs[b].v })

	out := make([]float64, len(qs))
	cum := make([]float64, len(pairs))
	var running float64
	for i, p := range pairs {
		running += p.w
		cum[i] = running - 0.5*p.w
	}
	if len(cum) == 0 {
		fillNaN(out)
		return out
	}
	first := cum[0]
	span := cum[len(cum)-1] - first
	if !(span > 0) || math.IsInf(span, 0) {
		fillNaN(out)
		return out
	}
	for i := range cum {
		cum[i] = (cum[i] - first) / span
	}

	for j, q := range qs {
		out[j] = interp(q, cum, pairs[0].v, pairs[len(pairs)-1].v, func(k int) float64 { return pairs[k].v })
	}
	return out
}

func interp(q float64, xs []float64, lo, hi float64, y func(int) float64) float64 {
	if math.IsNaN(q) {
		return math.NaN()
	}
	last := len(xs) - 1
	if q <= xs[0] {
		return lo
	}
	if q >= xs[last] {
		return hi
	}
	k := sort.SearchFloat64s(xs, q)
	if xs[k] == q {
		return y(k)
	}
	x0, x1 := xs[k-1], xs[k]
	return y(k-1) + (q-x0)/(x1-x0)*(y(k)-y(k-1))
}

func fillNaN(xs []float64) {
	for i := range xs {
		xs[i] = math.NaN()
	}
}
