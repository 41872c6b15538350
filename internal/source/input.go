package source

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/tzfnuist/ClimWIP/internal/diagnostic"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Input is one ensemble's precomputed distances and target variable.
type Input struct {
	Models       []string                 `yaml:"models" json:"models"`
	Quality      []QualityDiagnostic      `yaml:"quality" json:"quality,omitempty"`
	Independence []IndependenceDiagnostic `yaml:"independence" json:"independence"`
	Target       *Target                  `yaml:"target" json:"target,omitempty"`
}

// QualityDiagnostic holds one distance per model from observations.
type QualityDiagnostic struct {
	Name   string          `yaml:"name" json:"name"`
	Values ensemble.Values `yaml:"values" json:"values"`
}

// IndependenceDiagnostic holds model-model distances.
type IndependenceDiagnostic struct {
	Name   string          `yaml:"name" json:"name"`
	Matrix ensemble.Matrix `yaml:"matrix" json:"matrix"`
}

// Target is the target variable, either one value per model or one
// (lat, lon) field per model with its latitudes in degrees.
type Target struct {
	Values ensemble.Values   `yaml:"values" json:"values,omitempty"`
	Fields []ensemble.Matrix `yaml:"fields" json:"fields,omitempty"`
	Lat    ensemble.Values   `yaml:"lat" json:"lat,omitempty"`
}

// Decode parses a YAML or JSON document.
func Decode(data []byte) (*Input, error) {
	var in Input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, ensemble.Configf("decode input: %v", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *Input) Validate() error {
	members, err := in.Members()
	if err != nil {
		return err
	}
	n := len(members)
	for _, q := range in.Quality {
		if len(q.Values) != n {
			return ensemble.Configf("quality diagnostic %q has %d values for %d models", q.Name, len(q.Values), n)
		}
	}
	if len(in.Independence) == 0 {
		return ensemble.Configf("input has no independence diagnostics")
	}
	for _, d := range in.Independence {
		if err := d.Matrix.Validate(n); err != nil {
			return fmt.Errorf("independence diagnostic %q: %w", d.Name, err)
		}
	}
	if in.Target != nil {
		if _, err := in.Target.Reduce(n); err != nil {
			return err
		}
	}
	return nil
}

func (in *Input) Members() ([]ensemble.Member, error) {
	return ensemble.ParseMembers(in.Models)
}

// ObservationFree reports whether the input carries no quality distances.
func (in *Input) ObservationFree() bool {
	return len(in.Quality) == 0
}

// Distances arranges the raw arrays by diagnostic name.
func (in *Input) Distances() diagnostic.Distances {
	d := diagnostic.Distances{Independence: make(map[string]ensemble.Matrix, len(in.Independence))}
	if !in.ObservationFree() {
		d.Quality = make(map[string][]float64, len(in.Quality))
		for _, q := range in.Quality {
			d.Quality[q.Name] = q.Values
		}
	}
	for _, i := range in.Independence {
		d.Independence[i.Name] = i.Matrix
	}
	return d
}

// Reduce returns one target value per model. Fields are averaged with
// cos(lat) area weights, skipping NaN cells.
func (t *Target) Reduce(n int) ([]float64, error) {
	if len(t.Values) > 0 {
		if len(t.Values) != n {
			return nil, ensemble.Configf("target has %d values for %d models", len(t.Values), n)
		}
		return t.Values, nil
	}
	if len(t.Fields) != n {
		return nil, ensemble.Configf("target has %d fields for %d models", len(t.Fields), n)
	}
	out := make([]float64, n)
	for m, field := range t.Fields {
		if len(field) != len(t.Lat) {
			return nil, ensemble.Configf("target field %d has %d latitudes, want %d", m, len(field), len(t.Lat))
		}
		out[m] = AreaMean(field, t.Lat)
	}
	return out, nil
}

// AreaMean is the cos(lat)-weighted mean of a (lat, lon) field.
func AreaMean(field ensemble.Matrix, lat []float64) float64 {
	var sum, wsum float64
	for i, row := range field {
		w := math.Cos(lat[i] * math.Pi / 180)
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			sum += w * v
			wsum += w
		}
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}
