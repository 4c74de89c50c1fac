package fanout

// Health aggregates the fan-out layer's subscriber counters for the
// agent's health interface (spec §7 error kind 5 "Subscriber slow").
type Health struct {
	Events *Bus[EventView]
	Alerts *Bus[AlertView]
}

// Stats is a point-in-time summary of fan-out health.
type Stats struct {
	EventSubscribers int
	AlertSubscribers int
	// LossySubscribers counts distinct subscribers (across both
	// streams) that have dropped at least one item.
	LossySubscribers int
}

// Snapshot reports current subscriber counts and how many are lossy.
func (h *Health) Snapshot() Stats {
	stats := Stats{}
	if h.Events != nil {
		h.Events.mu.RLock()
		stats.EventSubscribers = len(h.Events.subs)
		for _, sub := range h.Events.subs {
			if sub.Dropped() > 0 {
				stats.LossySubscribers++
			}
		}
		h.Events.mu.RUnlock()
	}
	if h.Alerts != nil {
		h.Alerts.mu.RLock()
		stats.AlertSubscribers = len(h.Alerts.subs)
		for _, sub := range h.Alerts.subs {
			if sub.Dropped() > 0 {
				stats.LossySubscribers++
			}
		}
		h.Alerts.mu.RUnlock()
	}
	return stats
}
