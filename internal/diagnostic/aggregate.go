package diagnostic

import (
	"math"
	"strings"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Diagnostic is one named distance metric with its normalizer and its
// weight in the aggregate.
type Diagnostic struct {
	Name       string     `json:"name"`
	Normalizer Normalizer `json:"normalizer"`
	Weight     float64    `json:"weight"`
}

// Set is an ordered list of diagnostics aggregated into one distance.
type Set []Diagnostic

// Weights returns the aggregation weights in order.
func (s Set) Weights() []float64 {
	out := make([]float64, len(s))
	for i, d := range s {
		out[i] = d.Weight
	}
	return out
}

// Names returns the diagnostic names in order.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = d.Name
	}
	return out
}

// Validate checks that the set is non-empty, names are unique and weights
// are non-negative with a positive total.
func (s Set) Validate() error {
	if len(s) == 0 {
		return ensemble.Configf("diagnostic set is empty")
	}
	seen := make(map[string]bool, len(s))
	for _, d := range s {
		if strings.TrimSpace(d.Name) == "" {
			return ensemble.Configf("diagnostic without a name")
		}
		if seen[d.Name] {
			return ensemble.Configf("duplicate diagnostic %q", d.Name)
		}
		seen[d.Name] = true
	}
	return validateWeights(s.Weights())
}

func validateWeights(weights []float64) error {
	var sum float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return ensemble.Configf("invalid diagnostic weight %g", w)
		}
		sum += w
	}
	if sum <= 0 {
		return ensemble.Configf("diagnostic weights sum to %g, must be positive", sum)
	}
	return nil
}

// Aggregate is the weighted arithmetic mean sum(w_k*v_k)/sum(w_k). A NaN value
// makes the result NaN, regardless of its weight.
func Aggregate(values, weights []float64) (float64, error) {
	if len(values) != len(weights) {
		return 0, ensemble.Configf("%d diagnostic values but %d weights", len(values), len(weights))
	}
	if err := validateWeights(weights); err != nil {
		return 0, err
	}
	var num, den float64
	for k, v := range values {
		num += weights[k] * v
		den += weights[k]
	}
	return num / den, nil
}
