package ensemble

import (
	"math"
	"sort"
)

// NaN-aware reductions. Each returns NaN when no finite-or-infinite (non-NaN)
// value is present.

func NaNMin(xs []float64) float64 {
	out := math.NaN()
	for _, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v < out {
			out = v
		}
	}
	return out
}

func NaNMax(xs []float64) float64 {
	out := math.NaN()
	for _, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v > out {
			out = v
		}
	}
	return out
}

func NaNSum(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

func NaNMean(xs []float64) float64 {
	var sum float64
	var n int
	for _, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func NaNMedian(xs []float64) float64 {
	cp := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			cp = append(cp, v)
		}
	}
	if len(cp) == 0 {
		return math.NaN()
	}
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return 0.5 * (cp[mid-1] + cp[mid])
}

// OffDiagonal flattens every off-diagonal element of m.
func OffDiagonal(m Matrix) []float64 {
	var out []float64
	for i, row := range m {
		for j, v := range row {
			if i != j {
				out = append(out, v)
			}
		}
	}
	return out
}

// Flatten returns all elements of m in row-major order.
func Flatten(m Matrix) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}
