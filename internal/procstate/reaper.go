package procstate

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sentryd/sentryd/internal/log"
	"github.com/sentryd/sentryd/internal/safe"
	"go.uber.org/zap"
)

// MetricsRecorder is the narrow surface the reaper needs from a metrics
// registry (internal/metrics.Registry satisfies it structurally); nil
// disables metrics emission entirely.
type MetricsRecorder interface {
	IncrCounter(key string, val float32)
	SetGauge(key string, val float32)
}

// Reaper periodically evicts reaped records that have aged out of the
// reap window (spec §5 retention policy), independent of the consumer
// thread's event-driven Apply path.
type Reaper struct {
	store   *Store
	cron    *cron.Cron
	metrics MetricsRecorder
}

// NewReaper builds a reaper that runs on the given cron schedule (e.g.
// "@every 10s"); defaults to every 10 seconds if spec is empty.
func NewReaper(store *Store, spec string) (*Reaper, error) {
	if spec == "" {
		spec = "@every 10s"
	}
	c := cron.New()
	r := &Reaper{store: store, cron: c}
	_, err := c.AddFunc(spec, r.sweep)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetMetrics attaches a metrics recorder; the reaper is the periodic
// maintenance job spec §7 requires to feed the go-metrics sink.
func (r *Reaper) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

func (r *Reaper) sweep() {
	safe.Do(func() {
		evicted := r.store.EvictExpired(time.Now())
		if r.metrics != nil {
			r.metrics.SetGauge("procstate_reaper_evicted", float32(evicted))
			if evicted > 0 {
				r.metrics.IncrCounter("procstate_reaper_evictions", float32(evicted))
			}
		}
		if evicted > 0 {
			log.L().Debug("reap window eviction", zap.Int("evicted", evicted))
		}
	})
}

// Run starts the cron scheduler and blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}
