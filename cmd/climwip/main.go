package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Exit codes for different failure modes
const (
	ExitSuccess     = 0 // Weights computed
	ExitCalibration = 1 // No shape parameters met the inside ratio
	ExitError       = 2 // Configuration or runtime error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ensemble.ErrCalibration):
		return ExitCalibration
	default:
		return ExitError
	}
}
