package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthSnapshotCountsLossySubscribers(t *testing.T) {
	events := NewBus[EventView]()
	alerts := NewBus[AlertView]()
	h := &Health{Events: events, Alerts: alerts}

	sub, unsub := events.Subscribe(1, DropNewest)
	defer unsub()

	events.Publish(EventView{Seq: 1})
	events.Publish(EventView{Seq: 2}) // queue full, dropped

	stats := h.Snapshot()
	assert.Equal(t, 1, stats.EventSubscribers)
	assert.Equal(t, 0, stats.AlertSubscribers)
	assert.Equal(t, 1, stats.LossySubscribers)
	assert.EqualValues(t, 1, sub.Dropped())
}
