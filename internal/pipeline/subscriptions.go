package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tzfnuist/ClimWIP/internal/hermes"
)

const statsInterval = time.Minute

// SetupSubscriptions registers NATS subscriptions for run requests.
func (r *Runner) SetupSubscriptions() {
	if r.hermes == nil {
		return
	}

	_ = r.hermes.Subscribe(hermes.SubjectWeightsRequest, func(_ string, data []byte) {
		var evt hermes.WeightsRequestEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			r.logger.Warn("invalid weights request event", "error", err)
			return
		}
		src := evt.Source
		if src == "" {
			src = "hermes"
		}
		run, err := r.Submit(context.Background(), Request{
			Name:      evt.Name,
			InputRef:  evt.InputRef,
			Weighting: evt.Weighting,
			Source:    src,
		})
		if err != nil {
			r.logger.Error("failed to queue run from NATS request", "error", err)
			return
		}
		r.logger.Info("run queued from NATS request", "run_id", run.ID, "input_ref", evt.InputRef)
	})
}

func (r *Runner) statsLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishStats(ctx)
		}
	}
}

func (r *Runner) publishStats(ctx context.Context) {
	if r.store == nil || r.hermes == nil {
		return
	}
	stats, err := r.store.GetStats(ctx)
	if err != nil {
		r.logger.Error("failed to get run stats", "error", err)
		return
	}
	r.publish(hermes.SubjectRunStats, hermes.StatsEvent{
		Pending:   stats.TotalPending,
		Running:   stats.TotalRunning,
		Completed: stats.TotalCompleted,
		Degraded:  stats.TotalDegraded,
		Failed:    stats.TotalFailed,
		AvgMs:     stats.AvgDurationMs,
		Timestamp: time.Now(),
	})
}
