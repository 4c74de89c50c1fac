// Package fanout broadcasts the consumer's event and alert streams to
// any number of external subscribers without ever blocking the
// consumer thread that publishes into it (spec §4.6).
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DropPolicy selects what a subscriber's bounded queue does when full.
type DropPolicy int

const (
	// DropOldest discards the queue's oldest buffered item to make room
	// for the new one (spec §4.6 event stream default: "drop oldest").
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming item, leaving the queue
	// untouched (spec §4.6 alert stream default: "drop-newest to
	// preserve earliest evidence").
	DropNewest
)

// Subscriber is one registered consumer of a Bus[T]'s broadcast.
type Subscriber[T any] struct {
	ID     string
	ch     chan T
	policy DropPolicy
	// dropped counts items this subscriber never received because its
	// queue was full; exposed via health.go as the "lossy" counter.
	dropped uint64
}

// C returns the subscriber's receive channel. Closed when the
// subscriber is removed from its Bus.
func (s *Subscriber[T]) C() <-chan T { return s.ch }

// Dropped returns the number of items this subscriber has lost to
// queue overflow so far.
func (s *Subscriber[T]) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// MetricsRecorder is the narrow surface a Bus needs from a metrics
// registry (internal/metrics.Registry satisfies it structurally); nil
// (the zero value) disables metrics emission entirely.
type MetricsRecorder interface {
	IncrCounter(key string, val float32)
}

// Bus is a bounded-queue broadcast: Publish fans out to every current
// subscriber without blocking on any of them (spec §4.6 "Subscriber
// failure never stalls the consumer loop").
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[string]*Subscriber[T]
	metrics MetricsRecorder
}

// NewBus creates an empty broadcast bus for payload type T.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[string]*Subscriber[T])}
}

// SetMetrics attaches a metrics recorder for the "subscriber slow"
// recoverable-error cause (spec §7); call before Publish is used
// concurrently from multiple goroutines.
func (b *Bus[T]) SetMetrics(m MetricsRecorder) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// Subscribe registers a new subscriber with a queue of the given
// capacity and overflow policy, returning it and an unsubscribe func.
func (b *Bus[T]) Subscribe(bufSize int, policy DropPolicy) (*Subscriber[T], func()) {
	if bufSize <= 0 {
		bufSize = 256
	}
	sub := &Subscriber[T]{
		ID:     uuid.NewString(),
		ch:     make(chan T, bufSize),
		policy: policy,
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	return sub, func() { b.unsubscribe(sub.ID) }
}

func (b *Bus[T]) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish fans v out to every subscriber, applying each subscriber's
// own overflow policy on a full queue. Never blocks.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		b.deliver(sub, v)
	}
}

func (b *Bus[T]) deliver(sub *Subscriber[T], v T) {
	select {
	case sub.ch <- v:
		return
	default:
	}

	switch sub.policy {
	case DropOldest:
		select {
		case <-sub.ch:
			atomic.AddUint64(&sub.dropped, 1)
			b.recordDrop()
		default:
		}
		select {
		case sub.ch <- v:
		default:
			// Lost the race to another publisher; count this item as
			// dropped too rather than retry indefinitely.
			atomic.AddUint64(&sub.dropped, 1)
			b.recordDrop()
		}
	case DropNewest:
		atomic.AddUint64(&sub.dropped, 1)
		b.recordDrop()
	}
}

func (b *Bus[T]) recordDrop() {
	if b.metrics != nil {
		b.metrics.IncrCounter("fanout_subscriber_slow", 1)
	}
}

// Count returns the current number of live subscribers.
func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll closes every subscriber's channel, used at shutdown so
// subscribers observe end-of-stream (spec §4.6).
func (b *Bus[T]) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
