package calibration

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Threshold is the minimum inside ratio a grid cell must reach. With Force
// the threshold is derived from the percentile spread and relaxed when no
// cell passes.
type Threshold struct {
	Value float64
	Force bool
}

// ForceThreshold selects the derived, relaxable threshold.
var ForceThreshold = Threshold{Force: true}

// ParseThreshold reads "force" or a number in [0,1].
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "force") {
		return ForceThreshold, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Threshold{}, ensemble.Configf("inside_ratio must be a number or \"force\", got %q", s)
	}
	t := Threshold{Value: v}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	return t, nil
}

func (t Threshold) Validate() error {
	if t.Force {
		return nil
	}
	if !(t.Value >= 0 && t.Value <= 1) {
		return ensemble.Configf("inside_ratio must be in [0, 1], got %g", t.Value)
	}
	return nil
}

func (t Threshold) String() string {
	if t.Force {
		return "force"
	}
	return strconv.FormatFloat(t.Value, 'g', -1, 64)
}

func (t Threshold) MarshalJSON() ([]byte, error) {
	if t.Force {
		return json.Marshal("force")
	}
	return json.Marshal(t.Value)
}

func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := ParseThreshold(v)
		if err != nil {
			return err
		}
		*t = parsed
	case float64:
		parsed := Threshold{Value: v}
		if err := parsed.Validate(); err != nil {
			return err
		}
		*t = parsed
	default:
		return ensemble.Configf("inside_ratio must be a number or \"force\"")
	}
	return nil
}
