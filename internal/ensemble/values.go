package ensemble

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Values is a float vector whose NaN entries travel as null in JSON and as
// null or .nan in YAML.
type Values []float64

func (v Values) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(v))
	for i := range v {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			continue
		}
		f := v[i]
		out[i] = &f
	}
	return json.Marshal(out)
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*v = out
	return nil
}

func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a sequence of numbers", node.Line)
	}
	out := make(Values, len(node.Content))
	for i, n := range node.Content {
		f, err := scalarFloat(n)
		if err != nil {
			return err
		}
		out[i] = f
	}
	*v = out
	return nil
}

func scalarFloat(n *yaml.Node) (float64, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("line %d: expected a number", n.Line)
	}
	if n.Tag == "!!null" {
		return math.NaN(), nil
	}
	switch strings.ToLower(n.Value) {
	case ".nan", "nan":
		return math.NaN(), nil
	case ".inf", "+.inf":
		return math.Inf(1), nil
	case "-.inf":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %q is not a number", n.Line, n.Value)
	}
	return f, nil
}

func (m Matrix) MarshalJSON() ([]byte, error) {
	rows := make([]Values, len(m))
	for i, r := range m {
		rows[i] = Values(r)
	}
	return json.Marshal(rows)
}

func (m *Matrix) UnmarshalJSON(data []byte) error {
	var rows []Values
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	*m = fromRows(rows)
	return nil
}

func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	var rows []Values
	if err := node.Decode(&rows); err != nil {
		return err
	}
	*m = fromRows(rows)
	return nil
}

func fromRows(rows []Values) Matrix {
	out := make(Matrix, len(rows))
	for i, r := range rows {
		out[i] = []float64(r)
	}
	return out
}
