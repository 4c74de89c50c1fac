// Package consumer implements the single-threaded cursor loop that reads
// the sequencer ring in strict order, updates process state, drives the
// rules engine, and hands events/alerts to the fan-out layer.
package consumer

import (
	"context"
	"runtime"
	"time"

	"github.com/sentryd/sentryd/internal/kernel/producer"
	"github.com/sentryd/sentryd/internal/sequencer"
	"go.uber.org/zap"
)

// Dispatcher receives every event delivered in order and the drop count
// of any overrun detected since the previous delivery (0 when none). It
// must not block: the loop's own liveness depends on it returning
// promptly (spec §4.3/§5 — downstream fan-out uses bounded queues).
type Dispatcher interface {
	Dispatch(ev sequencer.Event, overrunDrops uint64)
}

// MetricsRecorder is the narrow surface the loop needs from a metrics
// registry (internal/metrics.Registry satisfies it structurally); nil
// disables metrics emission entirely.
type MetricsRecorder interface {
	IncrCounter(key string, val float32)
}

// Stats is the set of counters a health/metrics collaborator reads.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Overruns  uint64
}

// Config tunes the idle-wait behavior described in spec §4.3 step 5: a
// brief spin, then short sleeps, so an idle ring costs near-zero CPU.
type Config struct {
	SpinIterations int
	IdleSleep      time.Duration
	// StartAtProducerCurrent skips any pre-existing backlog at startup
	// (spec §9 start_at option) instead of starting the cursor at 0.
	StartAtProducerCurrent bool
	Metrics                MetricsRecorder
}

func (c Config) withDefaults() Config {
	if c.SpinIterations <= 0 {
		c.SpinIterations = 64
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 50 * time.Microsecond
	}
	return c
}

// Loop owns the cursor and runs on a single dedicated goroutine.
type Loop struct {
	src     producer.Source
	disp    Dispatcher
	cfg     Config
	logger  *zap.Logger
	metrics MetricsRecorder

	cursor uint64
	stats  Stats
}

// New creates a Loop reading from src and dispatching to disp.
func New(src producer.Source, disp Dispatcher, cfg Config, logger *zap.Logger) *Loop {
	cfg = cfg.withDefaults()
	cursor := uint64(0)
	if cfg.StartAtProducerCurrent {
		cursor = src.CurrentTicket()
	}
	return &Loop{src: src, disp: disp, cfg: cfg, logger: logger, cursor: cursor, metrics: cfg.Metrics}
}

// Cursor returns the next sequence the loop expects to read. Exposed for
// tests and for health reporting.
func (l *Loop) Cursor() uint64 { return l.cursor }

// Stats returns a copy of the loop's delivery/drop counters.
func (l *Loop) Stats() Stats { return l.stats }

// Run executes the poll/dispatch algorithm of spec §4.3 until ctx is
// canceled. It never returns an error on its own — cancellation is the
// only exit path, matching the "consumer thread never aborts on a
// recoverable error" propagation policy of spec §7.
func (l *Loop) Run(ctx context.Context) {
	spins := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, status := l.src.Poll(l.cursor)
		switch status {
		case sequencer.Delivered:
			spins = 0
			l.deliver(ev, 0)

		case sequencer.Overrun:
			spins = 0
			l.stats.Overruns++
			l.drainOverrun(ev)

		case sequencer.NotReady:
			spins++
			if spins < l.cfg.SpinIterations {
				runtime.Gosched()
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.IdleSleep):
			}
		}
	}
}

// drainOverrun walks every sequence between the current cursor and ev's
// (exclusive), delivering any that still hold their own un-overwritten
// event and counting only the ones actually overwritten as dropped — a
// ring being one generation ahead destroys exactly the slots that
// collided, not the whole span (spec §8 boundary case: ring at N+1
// outstanding delivers 1 drop). ev itself is delivered last, carrying
// the accumulated drop count.
func (l *Loop) drainOverrun(ev sequencer.Event) {
	drops := uint64(0)
	for l.cursor < ev.Seq {
		recEv, status := l.src.Poll(l.cursor)
		switch status {
		case sequencer.Delivered:
			l.deliver(recEv, 0)
		case sequencer.NotReady:
			// not yet published by its producer; leave the cursor here
			// and let the next Run iteration retry instead of counting
			// it as lost.
			l.stats.Dropped += drops
			if drops > 0 && l.metrics != nil {
				l.metrics.IncrCounter("consumer_transport_loss", float32(drops))
			}
			if l.logger != nil && drops > 0 {
				l.logger.Warn("consumer overrun",
					zap.Uint64("to_seq", ev.Seq),
					zap.Uint64("drops", drops),
				)
			}
			return
		default: // Overrun: this slot was genuinely overwritten.
			drops++
			l.cursor++
		}
	}

	l.stats.Dropped += drops
	if drops > 0 && l.metrics != nil {
		l.metrics.IncrCounter("consumer_transport_loss", float32(drops))
	}
	if l.logger != nil {
		l.logger.Warn("consumer overrun",
			zap.Uint64("to_seq", ev.Seq),
			zap.Uint64("drops", drops),
		)
	}
	l.deliver(ev, drops)
}

func (l *Loop) deliver(ev sequencer.Event, overrunDrops uint64) {
	l.stats.Delivered++
	l.cursor++
	if ring, ok := l.src.(interface{ Clear(uint64) }); ok {
		ring.Clear(ev.Seq)
	}
	l.disp.Dispatch(ev, overrunDrops)
}
