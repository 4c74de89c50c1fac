// Package pipeline wires the consumer loop's ordered event stream into
// process-state reconstruction, the rules engine, and the fan-out
// layer. It is the concrete internal/consumer.Dispatcher the bootstrap
// layer constructs (spec §4 "downstream pipeline").
package pipeline

import (
	"go.uber.org/zap"

	"github.com/sentryd/sentryd/internal/procstate"
	"github.com/sentryd/sentryd/internal/rules"
	"github.com/sentryd/sentryd/internal/sequencer"
)

// EventPublisher is the subset of fanout.EventPublisher the pipeline
// needs, kept as an interface so this package never imports fanout
// directly and can be tested with a fake publisher.
type EventPublisher interface {
	Publish(ev sequencer.Event)
}

// Pipeline implements internal/consumer.Dispatcher: every event the
// consumer loop delivers, in order, is applied to process state, run
// through the rules engine, and forwarded to subscribers.
type Pipeline struct {
	store  *procstate.Store
	engine *rules.Engine
	events EventPublisher
	logger *zap.Logger
}

// New builds a Pipeline from its already-constructed collaborators.
func New(store *procstate.Store, engine *rules.Engine, events EventPublisher, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: store, engine: engine, events: events, logger: logger}
}

// Dispatch implements internal/consumer.Dispatcher.
func (p *Pipeline) Dispatch(ev sequencer.Event, overrunDrops uint64) {
	if overrunDrops > 0 {
		p.logger.Warn("consumer cursor overrun, events skipped",
			zap.Uint64("dropped", overrunDrops), zap.Uint64("resume_seq", ev.Seq))
	}

	p.store.Apply(ev)

	cgroupID := p.cgroupOf(ev.Pid)

	switch ev.Kind {
	case sequencer.KindFork:
		p.engine.HandleFork(ev.Pid, cgroupID, ev.TimestampNs)
	case sequencer.KindExec:
		p.engine.HandleExec(ev.Pid, ev.TimestampNs)
	case sequencer.KindExit:
		p.engine.HandleExit(ev.Pid, cgroupID, ev.TimestampNs)
	}

	p.events.Publish(ev)
}

func (p *Pipeline) cgroupOf(pid uint32) uint64 {
	rec, ok := p.store.GetByPid(pid)
	if !ok {
		return 0
	}
	return rec.CgroupID
}
