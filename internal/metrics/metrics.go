package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tzfnuist/ClimWIP/internal/calibration"
)

const namespace = "climwip"

// Outcome labels for RunsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Metrics holds the collectors for weighting runs. A nil *Metrics records
// nothing.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	CalibrationDuration prometheus.Histogram
	InsideRatio         prometheus.Gauge
	Sigma               *prometheus.GaugeVec
	EnsembleMembers     prometheus.Gauge
	EnsembleModels      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Weighting runs by outcome.",
		}, []string{"outcome"}),
		CalibrationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calibration_duration_seconds",
			Help:      "Wall time of the perfect model grid search.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		InsideRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_inside_ratio",
			Help:      "Inside ratio achieved by the last calibration.",
		}),
		Sigma: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shape_parameter",
			Help:      "Shape parameters chosen by the last run.",
		}, []string{"term"}),
		EnsembleMembers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ensemble_members",
			Help:      "Members in the last weighted ensemble.",
		}),
		EnsembleModels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ensemble_models",
			Help:      "Distinct physical models in the last weighted ensemble.",
		}),
	}
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEnsemble(members, models int) {
	if m == nil {
		return
	}
	m.EnsembleMembers.Set(float64(members))
	m.EnsembleModels.Set(float64(models))
}

// ObserveCalibration records a finished calibration. Bypassed calibrations
// only update the shape parameters.
func (m *Metrics) ObserveCalibration(elapsed time.Duration, res *calibration.Result) {
	if m == nil || res == nil {
		return
	}
	m.Sigma.WithLabelValues("q").Set(res.SigmaQ)
	m.Sigma.WithLabelValues("i").Set(res.SigmaI)
	if res.Bypassed {
		return
	}
	m.CalibrationDuration.Observe(elapsed.Seconds())
	m.InsideRatio.Set(res.Achieved)
}
