package ensemble

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid normalizers, weight vectors, diagnostic
	// lists and degenerate ensembles. It is never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrCalibration marks a perfect model test that could not reach an
	// explicit coverage threshold anywhere in the sigma grid.
	ErrCalibration = errors.New("calibration error")
)

// Configf wraps ErrConfiguration with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// CalibrationError carries the best inside ratio reached by the grid search.
type CalibrationError struct {
	MaxRatio  float64
	Threshold float64
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("perfect model test failed (%.4f < %.4f)", e.MaxRatio, e.Threshold)
}

func (e *CalibrationError) Is(target error) bool {
	return target == ErrCalibration
}
