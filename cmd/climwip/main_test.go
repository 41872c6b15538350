package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tzfnuist/ClimWIP/internal/config"
	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/source"
)

const inputYAML = `models:
  - ACCESS-CM2_r1i1p1f1_CMIP6
  - CanESM5_r1i1p1f1_CMIP6
  - MIROC6_r1i1p1f1_CMIP6
  - MPI-ESM1-2-LR_r1i1p1f1_CMIP6
  - NorESM2-LM_r1i1p1f1_CMIP6
quality:
  - name: tas_CLIM
    values: [0.9, 0.4, 1.3, 0.6, 0.8]
independence:
  - name: tas_CLIM
    matrix:
      - [0, 0.7, 0.9, 0.5, 0.6]
      - [0.7, 0, 0.8, 0.65, 0.75]
      - [0.9, 0.8, 0, 0.85, 0.95]
      - [0.5, 0.65, 0.85, 0, 0.4]
      - [0.6, 0.75, 0.95, 0.4, 0]
target:
  values: [2.1, 3.0, 4.2, 2.6, 2.4]
`

const spreadYAML = `models: [A_r1i1p1f1_CMIP6, B_r1i1p1f1_CMIP6, C_r1i1p1f1_CMIP6]
independence:
  - name: tas_CLIM
    matrix: [[0, 0.5, 1], [0.5, 0, 0.8], [1, 0.8, 0]]
target:
  values: [0, 1, 100]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"calibration", &ensemble.CalibrationError{Threshold: 0.8}, ExitCalibration},
		{"wrapped calibration", fmt.Errorf("calibration: %w", &ensemble.CalibrationError{}), ExitCalibration},
		{"configuration", ensemble.Configf("bad"), ExitError},
		{"other", errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	buf.Reset()
	newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf).Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
}

func TestNewLoader(t *testing.T) {
	cfg := config.Default()
	l, err := newLoader(cfg)
	require.NoError(t, err)
	assert.Nil(t, l)

	path := writeFile(t, "input.yaml", inputYAML)
	cfg.Source.Path = path
	l, err = newLoader(cfg)
	require.NoError(t, err)
	assert.Equal(t, source.FileLoader{Dir: filepath.Dir(path), Path: path}, l)

	cfg.Source.Path = filepath.Dir(path)
	l, err = newLoader(cfg)
	require.NoError(t, err)
	assert.Equal(t, source.FileLoader{Dir: filepath.Dir(path)}, l)

	cfg.Source.Path = ""
	cfg.Source.URL = "http://localhost:9000"
	l, err = newLoader(cfg)
	require.NoError(t, err)
	assert.IsType(t, &source.HTTPClient{}, l)
}

func TestRunCommand(t *testing.T) {
	input := writeFile(t, "input.yaml", inputYAML)

	out, err := runCLI(t, "run", input, "--n-sigmas", "5", "--log-level", "error")
	require.NoError(t, err)

	var res struct {
		Mode    string `json:"mode"`
		Weights struct {
			Weights []float64 `json:"weights"`
		} `json:"weights"`
		Calibration struct {
			SigmasQ []float64 `json:"sigmas_q"`
		} `json:"calibration"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "observation", res.Mode)
	assert.Len(t, res.Weights.Weights, 5)
	assert.Len(t, res.Calibration.SigmasQ, 5)
}

func TestRunCommandFixedSigmasYAML(t *testing.T) {
	input := writeFile(t, "input.yaml", inputYAML)
	output := filepath.Join(t.TempDir(), "weights.yaml")

	_, err := runCLI(t, "run", input, "--sigma-q", "0.6", "--sigma-i", "-99", "--format", "yaml", "-o", output, "--log-level", "error")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &res))
	cal := res["calibration"].(map[string]interface{})
	assert.Equal(t, true, cal["bypassed"])
	assert.Equal(t, 0.6, cal["sigma_q"])
}

func TestRunCommandCalibrationFailure(t *testing.T) {
	cfgPath := writeFile(t, "climwip.yaml", `weighting:
  quality: []
  independence:
    - name: tas_CLIM
      normalizer: median
      weight: 1
  inside_ratio: 0.5
  n_sigmas: 5
`)
	input := writeFile(t, "spread.yaml", spreadYAML)

	_, err := runCLI(t, "run", input, "-c", cfgPath, "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, ExitCalibration, exitCode(err))
}

func TestRunCommandErrors(t *testing.T) {
	_, err := runCLI(t, "run", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))

	_, err = runCLI(t, "run", "--log-level", "error")
	assert.Error(t, err, "no input and no configured source")

	input := writeFile(t, "input.yaml", inputYAML)
	_, err = runCLI(t, "run", input, "--format", "xml")
	assert.Error(t, err)

	_, err = runCLI(t, "run", input, "--inside-ratio", "1.5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ensemble.ErrConfiguration))
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: observation weighting, sigma_q calibrated")

	input := writeFile(t, "input.yaml", inputYAML)
	out, err = runCLI(t, "validate", input)
	require.NoError(t, err)
	assert.Contains(t, out, "input ok: 5 members of 5 models, 1 quality and 1 independence diagnostics")
	assert.NotContains(t, out, "calibration bypassed")

	cfgPath := writeFile(t, "climwip.yaml", "weighting:\n  sigma_q: 0.5\n  sigma_i: -99\n")
	out, err = runCLI(t, "validate", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "sigma_q 0.5, sigma_i -99")
	assert.Contains(t, out, "calibration bypassed: weights use sigma_q 0.5, sigma_i -99")
}
