package hermes

import (
	"time"

	"github.com/tzfnuist/ClimWIP/internal/config"
)

// WeightsRequestEvent asks a worker to compute weights for one input.
type WeightsRequestEvent struct {
	Name      string                  `json:"name"`
	InputRef  string                  `json:"input_ref"`
	Weighting *config.WeightingConfig `json:"weighting,omitempty"`
	Source    string                  `json:"source,omitempty"`
}

type RunStartedEvent struct {
	RunID   string `json:"run_id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

type RunCompletedEvent struct {
	RunID    string  `json:"run_id"`
	Name     string  `json:"name"`
	SigmaQ   float64 `json:"sigma_q"`
	SigmaI   float64 `json:"sigma_i"`
	Achieved float64 `json:"achieved,omitempty"`
	Bypassed bool    `json:"bypassed"`
	Members  int     `json:"members"`
	Models   int     `json:"models"`
}

// RunDegradedEvent is published when the calibration threshold was relaxed.
type RunDegradedEvent struct {
	RunID     string  `json:"run_id"`
	Threshold float64 `json:"threshold"`
	Achieved  float64 `json:"achieved"`
}

type RunFailedEvent struct {
	RunID    string  `json:"run_id"`
	Error    string  `json:"error"`
	Kind     string  `json:"kind"`
	MaxRatio float64 `json:"max_ratio,omitempty"`
}

type StatsEvent struct {
	Pending   int       `json:"pending"`
	Running   int       `json:"running"`
	Completed int       `json:"completed"`
	Degraded  int       `json:"degraded"`
	Failed    int       `json:"failed"`
	AvgMs     float64   `json:"avg_duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}
