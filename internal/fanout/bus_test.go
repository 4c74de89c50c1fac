package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedItems(t *testing.T) {
	bus := NewBus[int]()
	sub, unsub := bus.Subscribe(4, DropOldest)
	defer unsub()

	bus.Publish(1)
	bus.Publish(2)

	select {
	case v := <-sub.C():
		assert.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for item")
	}
}

func TestDropOldestEvictsOldestOnFullQueue(t *testing.T) {
	bus := NewBus[int]()
	sub, unsub := bus.Subscribe(2, DropOldest)
	defer unsub()

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3) // queue full at [1,2]; evicts 1, leaves [2,3]

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, 2, first)
	assert.Equal(t, 3, second)
	assert.EqualValues(t, 1, sub.Dropped())
}

func TestDropNewestLeavesQueueUntouched(t *testing.T) {
	bus := NewBus[int]()
	sub, unsub := bus.Subscribe(2, DropNewest)
	defer unsub()

	bus.Publish(1)
	bus.Publish(2)
	bus.Publish(3) // dropped, queue stays [1,2]

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.EqualValues(t, 1, sub.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus[int]()
	sub, unsub := bus.Subscribe(2, DropOldest)
	unsub()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Count())
}

func TestPublishDoesNotBlockWithNoSubscribers(t *testing.T) {
	bus := NewBus[int]()
	require.NotPanics(t, func() { bus.Publish(1) })
}

func TestCloseAllEndsEveryStream(t *testing.T) {
	bus := NewBus[int]()
	sub1, _ := bus.Subscribe(2, DropOldest)
	sub2, _ := bus.Subscribe(2, DropOldest)

	bus.CloseAll()

	_, ok1 := <-sub1.C()
	_, ok2 := <-sub2.C()
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 0, bus.Count())
}
