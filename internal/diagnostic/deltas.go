package diagnostic

import (
	"fmt"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Distances holds the raw per-diagnostic distances of an ensemble of n
// members. Quality is nil when no observations are available.
type Distances struct {
	Quality      map[string][]float64
	Independence map[string]ensemble.Matrix
}

// Deltas are the normalized, aggregated distances. Quality is nil in
// observation-free mode.
type Deltas struct {
	Quality      ensemble.Values `json:"delta_q,omitempty"`
	Independence ensemble.Matrix `json:"delta_i"`
}

// ComputeDeltas normalizes every diagnostic and aggregates each set into a
// single distance per member (quality) and per member pair (independence).
//
// Derived normalizers of a diagnostic that appears in both sets are computed
// over the model-observation and the off-diagonal model-model distances
// together.
func ComputeDeltas(n int, quality, independence Set, d Distances) (*Deltas, error) {
	if n < 2 {
		return nil, ensemble.Configf("ensemble of size %d has no independence structure", n)
	}
	if err := independence.Validate(); err != nil {
		return nil, err
	}
	observed := d.Quality != nil
	if observed {
		if err := quality.Validate(); err != nil {
			return nil, err
		}
	}

	qRaw := make([][]float64, 0, len(quality))
	if observed {
		for _, diag := range quality {
			v, ok := d.Quality[diag.Name]
			if !ok {
				return nil, ensemble.Configf("missing quality diagnostic %q", diag.Name)
			}
			if len(v) != n {
				return nil, ensemble.Configf("quality diagnostic %q has %d values, want %d", diag.Name, len(v), n)
			}
			qRaw = append(qRaw, v)
		}
	}
	iRaw := make([]ensemble.Matrix, 0, len(independence))
	for _, diag := range independence {
		m, ok := d.Independence[diag.Name]
		if !ok {
			return nil, ensemble.Configf("missing independence diagnostic %q", diag.Name)
		}
		if err := m.Validate(n); err != nil {
			return nil, fmt.Errorf("independence diagnostic %q: %w", diag.Name, err)
		}
		iRaw = append(iRaw, m)
	}

	// pool collects every distance a normalizer of diagnostic name may see.
	pool := func(name string) []float64 {
		var out []float64
		if observed {
			if v, ok := d.Quality[name]; ok {
				out = append(out, v...)
			}
		}
		if m, ok := d.Independence[name]; ok {
			out = append(out, ensemble.OffDiagonal(m)...)
		}
		return out
	}

	iNorm := make([]ensemble.Matrix, len(independence))
	for k, diag := range independence {
		div, err := diag.Normalizer.Divisor(pool(diag.Name))
		if err != nil {
			return nil, fmt.Errorf("independence diagnostic %q: %w", diag.Name, err)
		}
		iNorm[k] = scaleMatrix(iRaw[k], div)
	}

	out := &Deltas{Independence: make(ensemble.Matrix, n)}
	iWeights := independence.Weights()
	values := make([]float64, len(independence))
	for i := 0; i < n; i++ {
		out.Independence[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			for k := range iNorm {
				values[k] = iNorm[k][i][j]
			}
			v, err := Aggregate(values, iWeights)
			if err != nil {
				return nil, err
			}
			out.Independence[i][j] = v
		}
	}

	if !observed {
		return out, nil
	}

	qNorm := make([][]float64, len(quality))
	for k, diag := range quality {
		div, err := diag.Normalizer.Divisor(pool(diag.Name))
		if err != nil {
			return nil, fmt.Errorf("quality diagnostic %q: %w", diag.Name, err)
		}
		qNorm[k] = scale(qRaw[k], div)
	}
	out.Quality = make([]float64, n)
	qWeights := quality.Weights()
	values = make([]float64, len(quality))
	for i := 0; i < n; i++ {
		for k := range qNorm {
			values[k] = qNorm[k][i]
		}
		v, err := Aggregate(values, qWeights)
		if err != nil {
			return nil, err
		}
		out.Quality[i] = v
	}
	return out, nil
}
