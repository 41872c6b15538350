package config

import (
	"fmt"
	"strconv"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
	"github.com/tzfnuist/ClimWIP/internal/diagnostic"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/weighting"
)

// WeightingConfig is the weighting section. It can also arrive with a run
// request, in JSON, overriding the server's section.
type WeightingConfig struct {
	// Quality may be empty, which selects observation-free weighting.
	Quality      []DiagnosticConfig `yaml:"quality" json:"quality"`
	Independence []DiagnosticConfig `yaml:"independence" json:"independence"`

	Percentiles          []float64 `yaml:"percentiles" json:"percentiles"`
	InsideRatio          Scalar    `yaml:"inside_ratio" json:"inside_ratio"`
	SigmaQ               *float64  `yaml:"sigma_q" json:"sigma_q,omitempty"`
	SigmaI               *float64  `yaml:"sigma_i" json:"sigma_i,omitempty"`
	EnsembleIndependence bool      `yaml:"ensemble_independence" json:"ensemble_independence"`
	NSigmas              int       `yaml:"n_sigmas" json:"n_sigmas"`
	Workers              int       `yaml:"workers" json:"workers,omitempty"`
	CalibrationModels    []string  `yaml:"calibration_models" json:"calibration_models,omitempty"`
}

type DiagnosticConfig struct {
	Name       string  `yaml:"name" json:"name"`
	Normalizer Scalar  `yaml:"normalizer" json:"normalizer"`
	Weight     float64 `yaml:"weight" json:"weight"`
}

func (w WeightingConfig) ObservationFree() bool {
	return len(w.Quality) == 0
}

func (w WeightingConfig) Validate() error {
	if len(w.Independence) == 0 {
		return ensemble.Configf("independence diagnostics must not be empty")
	}
	if !w.ObservationFree() {
		if _, err := w.QualitySet(); err != nil {
			return fmt.Errorf("quality: %w", err)
		}
	}
	if _, err := w.IndependenceSet(); err != nil {
		return fmt.Errorf("independence: %w", err)
	}
	if len(w.Percentiles) != 2 {
		return ensemble.Configf("percentiles must hold [lower, upper], got %d values", len(w.Percentiles))
	}
	if w.Workers < 0 {
		return ensemble.Configf("workers must not be negative")
	}
	if _, err := w.ParseMembers(); err != nil {
		return err
	}
	opts, err := w.CalibrationOptions()
	if err != nil {
		return err
	}
	return opts.Validate()
}

// QualitySet builds the quality diagnostics. Nil when observation-free.
func (w WeightingConfig) QualitySet() (diagnostic.Set, error) {
	if w.ObservationFree() {
		return nil, nil
	}
	return buildSet(w.Quality)
}

func (w WeightingConfig) IndependenceSet() (diagnostic.Set, error) {
	return buildSet(w.Independence)
}

// ParseMembers parses the explicit calibration subset, if any.
func (w WeightingConfig) ParseMembers() ([]ensemble.Member, error) {
	if len(w.CalibrationModels) == 0 {
		return nil, nil
	}
	members, err := ensemble.ParseMembers(w.CalibrationModels)
	if err != nil {
		return nil, fmt.Errorf("calibration_models: %w", err)
	}
	return members, nil
}

// CalibrationOptions translates the section into calibrator options.
func (w WeightingConfig) CalibrationOptions() (calibration.Options, error) {
	opts := calibration.DefaultOptions()
	if len(w.Percentiles) == 2 {
		opts.PercLower, opts.PercUpper = w.Percentiles[0], w.Percentiles[1]
	}
	if w.InsideRatio != "" {
		th, err := calibration.ParseThreshold(string(w.InsideRatio))
		if err != nil {
			return opts, err
		}
		opts.InsideRatio = th
	}
	if w.NSigmas != 0 {
		opts.NSigmas = w.NSigmas
	}
	opts.SigmaQ = w.SigmaQ
	opts.SigmaI = w.SigmaI
	opts.EnsembleIndependence = w.EnsembleIndependence
	opts.Workers = w.Workers
	return opts, nil
}

// ShapeParameters returns the supplied sigmas when both are set.
func (w WeightingConfig) ShapeParameters() (weighting.ShapeParameters, bool) {
	if w.SigmaQ == nil || w.SigmaI == nil {
		return weighting.ShapeParameters{}, false
	}
	return weighting.ShapeParameters{SigmaQ: *w.SigmaQ, SigmaI: *w.SigmaI}, true
}

func buildSet(entries []DiagnosticConfig) (diagnostic.Set, error) {
	set := make(diagnostic.Set, len(entries))
	for i, e := range entries {
		n, err := diagnostic.ParseNormalizer(string(e.Normalizer))
		if err != nil {
			return nil, fmt.Errorf("diagnostic %q: %w", e.Name, err)
		}
		set[i] = diagnostic.Diagnostic{Name: e.Name, Normalizer: n, Weight: e.Weight}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// UnmarshalJSON accepts a number or a keyword for Scalar fields.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	str := string(data)
	if unq, err := strconv.Unquote(str); err == nil {
		str = unq
	}
	*s = Scalar(str)
	return nil
}
