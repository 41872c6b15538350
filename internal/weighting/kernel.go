package weighting

import (
	"math"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// EqualWeighting is the sigma sentinel that replaces a decaying kernel term
// with a constant.
const EqualWeighting = -99.0

// IsEqualWeighting reports whether sigma is the equal-weighting sentinel.
func IsEqualWeighting(sigma float64) bool {
	return sigma == EqualWeighting
}

// ShapeParameters are the kernel bandwidths for quality and independence.
type ShapeParameters struct {
	SigmaQ float64 `json:"sigma_q"`
	SigmaI float64 `json:"sigma_i"`
}

// Validate accepts positive finite sigmas or EqualWeighting.
func (p ShapeParameters) Validate() error {
	if err := validateSigma("sigma_q", p.SigmaQ); err != nil {
		return err
	}
	return validateSigma("sigma_i", p.SigmaI)
}

func validateSigma(name string, sigma float64) error {
	if IsEqualWeighting(sigma) {
		return nil
	}
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return ensemble.Configf("%s must be positive or %g, got %g", name, EqualWeighting, sigma)
	}
	return nil
}

// Similarity is exp(-(d/sigma)^2), or 1 under EqualWeighting.
func Similarity(d, sigma float64) float64 {
	if IsEqualWeighting(sigma) {
		return 1
	}
	x := d / sigma
	return math.Exp(-x * x)
}

// SimilarityVector applies Similarity element-wise.
func SimilarityVector(d []float64, sigma float64) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = Similarity(v, sigma)
	}
	return out
}

// SimilarityMatrix applies Similarity element-wise.
func SimilarityMatrix(d ensemble.Matrix, sigma float64) ensemble.Matrix {
	out := make(ensemble.Matrix, len(d))
	for i, row := range d {
		out[i] = SimilarityVector(row, sigma)
	}
	return out
}

// terms evaluates numerator and denominator for the members in idx.
// qSim is indexed by member, iSim by member pair. The denominator of member
// a sums iSim[a][b] over every other b in idx; the self-term is never
// included. With equalI the denominator is len(idx)-1.
func terms(qSim []float64, iSim ensemble.Matrix, idx []int, equalI bool) (num, den []float64) {
	num = make([]float64, len(idx))
	den = make([]float64, len(idx))
	for j, a := range idx {
		num[j] = qSim[a]
		if equalI {
			den[j] = float64(len(idx) - 1)
			continue
		}
		var sum float64
		for _, b := range idx {
			if b == a {
				continue
			}
			sum += iSim[a][b]
		}
		den[j] = sum
	}
	return num, den
}

// Normalize returns (num/den) / sum(num/den). NaN ratios stay NaN and are
// left out of the sum.
func Normalize(num, den []float64) []float64 {
	ratio := make([]float64, len(num))
	for i := range num {
		ratio[i] = num[i] / den[i]
	}
	total := ensemble.NaNSum(ratio)
	out := make([]float64, len(ratio))
	for i, r := range ratio {
		if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = r / total
	}
	return out
}

// Terms computes the observation-anchored numerator and denominator.
func Terms(deltaQ []float64, deltaI ensemble.Matrix, p ShapeParameters) (num, den []float64, err error) {
	n := len(deltaQ)
	if err := checkEnsemble(n, deltaI, 2); err != nil {
		return nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	var iSim ensemble.Matrix
	if !IsEqualWeighting(p.SigmaI) {
		iSim = SimilarityMatrix(deltaI, p.SigmaI)
	}
	num, den = terms(SimilarityVector(deltaQ, p.SigmaQ), iSim, seq(n, -1), IsEqualWeighting(p.SigmaI))
	return num, den, nil
}

// SurrogateTerms evaluates the kernel once per surrogate truth. Row m holds
// the terms over every member except m; cell [m][m] is NaN. qSim[m] is the
// quality similarity of all members when m is the truth.
func SurrogateTerms(qSim, iSim ensemble.Matrix, equalI bool) (num, den ensemble.Matrix) {
	n := len(qSim)
	num = make(ensemble.Matrix, n)
	den = make(ensemble.Matrix, n)
	for m := 0; m < n; m++ {
		idx := seq(n, m)
		rn, rd := terms(qSim[m], iSim, idx, equalI)
		num[m] = make([]float64, n)
		den[m] = make([]float64, n)
		num[m][m] = math.NaN()
		den[m][m] = math.NaN()
		for j, a := range idx {
			num[m][a] = rn[j]
			den[m][a] = rd[j]
		}
	}
	return num, den
}

// NormalizeRows applies Normalize to every row.
func NormalizeRows(num, den ensemble.Matrix) ensemble.Matrix {
	out := make(ensemble.Matrix, len(num))
	for i := range num {
		out[i] = Normalize(num[i], den[i])
	}
	return out
}

func checkEnsemble(n int, deltaI ensemble.Matrix, min int) error {
	if n < min {
		return ensemble.Configf("ensemble of size %d is too small, need at least %d members", n, min)
	}
	return deltaI.Validate(n)
}

// seq returns 0..n-1 without skip.
func seq(n, skip int) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != skip {
			out = append(out, i)
		}
	}
	return out
}
