package diagnostic

import (
	"math"
	"strconv"
	"strings"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Mode selects how a diagnostic's distances are rescaled.
type Mode string

const (
	ModeFixed  Mode = "fixed"
	ModeMiddle Mode = "middle"
	ModeMedian Mode = "median"
	ModeMean   Mode = "mean"
)

// Normalizer rescales raw distances of one diagnostic so that diagnostics in
// different physical units can be averaged.
type Normalizer struct {
	Mode  Mode    `json:"mode"`
	Value float64 `json:"value,omitempty"`
}

// Fixed divides every distance by c.
func Fixed(c float64) Normalizer {
	return Normalizer{Mode: ModeFixed, Value: c}
}

// ParseNormalizer accepts a number (fixed) or one of middle, median, mean.
func ParseNormalizer(s string) (Normalizer, error) {
	s = strings.TrimSpace(s)
	if c, err := strconv.ParseFloat(s, 64); err == nil {
		return Fixed(c), nil
	}
	switch Mode(strings.ToLower(s)) {
	case ModeMiddle:
		return Normalizer{Mode: ModeMiddle}, nil
	case ModeMedian:
		return Normalizer{Mode: ModeMedian}, nil
	case ModeMean:
		return Normalizer{Mode: ModeMean}, nil
	}
	return Normalizer{}, ensemble.Configf("unknown normalizer %q", s)
}

func (n Normalizer) String() string {
	if n.Mode == ModeFixed {
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	}
	return string(n.Mode)
}

// Divisor computes the normalizing constant over data. Derived modes ignore
// NaN. A fixed constant must lie within one order of magnitude of the data's
// range.
func (n Normalizer) Divisor(data []float64) (float64, error) {
	var d float64
	switch n.Mode {
	case ModeFixed:
		lo, hi := ensemble.NaNMin(data), ensemble.NaNMax(data)
		if !(n.Value > 0) || !(n.Value > lo/10) || !(n.Value < hi*10) {
			return 0, ensemble.Configf("fixed normalizer %g outside one order of magnitude of data range [%g, %g]", n.Value, lo, hi)
		}
		d = n.Value
	case ModeMiddle:
		d = 0.5 * (ensemble.NaNMin(data) + ensemble.NaNMax(data))
	case ModeMedian:
		d = ensemble.NaNMedian(data)
	case ModeMean:
		d = ensemble.NaNMean(data)
	default:
		return 0, ensemble.Configf("unknown normalizer mode %q", n.Mode)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, ensemble.Configf("%s normalizer is degenerate (%g)", n, d)
	}
	return d, nil
}

// Normalize divides values by the normalizer derived from values themselves.
func Normalize(values []float64, n Normalizer) ([]float64, error) {
	d, err := n.Divisor(values)
	if err != nil {
		return nil, err
	}
	return scale(values, d), nil
}

func scale(values []float64, d float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / d
	}
	return out
}

func scaleMatrix(m ensemble.Matrix, d float64) ensemble.Matrix {
	out := make(ensemble.Matrix, len(m))
	for i, row := range m {
		out[i] = scale(row, d)
	}
	return out
}
