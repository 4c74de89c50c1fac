package fanout

import (
	"github.com/sentryd/sentryd/internal/rules"
	"github.com/sentryd/sentryd/internal/sequencer"
)

// EventPublisher adapts a Bus[EventView] to the shape the consumer
// loop's dispatcher pushes events through.
type EventPublisher struct {
	bus *Bus[EventView]
}

// NewEventPublisher wraps bus as an event publisher.
func NewEventPublisher(bus *Bus[EventView]) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// Publish fans ev out to every event-stream subscriber.
func (p *EventPublisher) Publish(ev sequencer.Event) {
	p.bus.Publish(toEventView(ev))
}

// AlertPublisher adapts a Bus[AlertView] to rules.Sink, so the rules
// engine can emit alerts without depending on this package's types.
type AlertPublisher struct {
	bus *Bus[AlertView]
}

// NewAlertPublisher wraps bus as a rules.Sink.
func NewAlertPublisher(bus *Bus[AlertView]) *AlertPublisher {
	return &AlertPublisher{bus: bus}
}

// Emit implements rules.Sink.
func (p *AlertPublisher) Emit(a rules.Alert) {
	p.bus.Publish(toAlertView(a))
}
