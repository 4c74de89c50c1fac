package sequencer

import (
	"fmt"
	"sync/atomic"
)

// ticketCounter is the single global sequence source. It is kept in its
// own struct, padded to a full cache line on both sides, so that hammering
// it with fetch-adds from every producing CPU never false-shares with any
// ring slot or with the Ring struct's own bookkeeping fields. Per the
// design notes this must stay a bare atomic counter: no mutex, no
// higher-level synchronization primitive wraps it.
type ticketCounter struct {
	_     [64]byte
	value uint64
	_     [56]byte
}

func (c *ticketCounter) next() uint64 {
	return atomic.AddUint64(&c.value, 1) - 1
}

func (c *ticketCounter) current() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Ring is the shared-memory (or, for the synthetic producer, plain heap)
// region described in spec §4.2: region A is the ticket counter, region B
// is an array of N power-of-two slots. Only producers claim tickets and
// write slots; the Ring itself never blocks a producer — the consumer's
// cursor lives in internal/consumer, not here, so a slow consumer can
// never stall a producer through this type.
type Ring struct {
	capacity uint64
	mask     uint64
	slots    []Slot
	ticket   ticketCounter
}

// NewRing allocates a ring of the given capacity, which must be a power of
// two (slot index = seq & (capacity-1)). Panics on an invalid capacity:
// this is a startup-time configuration error, not a runtime condition, and
// the agent's load-time fatal path (internal/agent/bootstrap) is expected
// to validate configuration before calling this.
func NewRing(capacity uint64) *Ring {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("sequencer: ring capacity %d is not a power of two", capacity))
	}
	return &Ring{
		capacity: capacity,
		mask:     capacity - 1,
		slots:    make([]Slot, capacity),
	}
}

// Capacity returns the number of slots in the ring.
func (r *Ring) Capacity() uint64 { return r.capacity }

// CurrentTicket returns the next sequence that would be claimed. Used by
// the consumer to skip a pre-existing backlog at startup when
// start_at=producer_current (spec §4.3, §9).
func (r *Ring) CurrentTicket() uint64 { return r.ticket.current() }

// Claim reserves the next sequence number for a producer. Wait-free: a
// single atomic fetch-add, relaxed with respect to any other producer —
// distinct tickets map to distinct slot indices until wraparound, so no
// producer ever needs to coordinate with another beyond this one
// instruction. This is the software-producer path (internal/kernel/producer's
// synthetic producer and tests); the real kernel producer claims its
// ticket inside the BPF program against the mmap'd counter map instead
// (see bpf/producer.bpf.c), but writes through the identical slot layout.
func (r *Ring) Claim() uint64 {
	return r.ticket.next()
}

// Publish writes a claimed slot's payload and releases it to the consumer.
// fill populates every field except Seq/Kind/ready, which Publish manages
// itself, following the two-phase write order spec §3/§4.1 mandates:
// cache line 2 (comm/extra) first, then cache line 1's identifiers, and
// only then the ready flag via an atomic release store.
func (r *Ring) Publish(seq uint64, kind Kind, fill func(*Slot)) {
	slot := &r.slots[seq&r.mask]

	// Phase 1: cache line 2, and the cache-line-1 fields other than the
	// ready flag itself. fill is responsible for Comm/Extra and may also
	// set TimestampNs/Pid/Tgid/Ppid/CPUID/ExitCode.
	fill(slot)
	slot.Kind = uint8(kind)
	slot.Seq = seq

	// Phase 2: publish. The atomic store is the release barrier every
	// acquire-load in Load below pairs with; no weaker fence is sufficient
	// per the design notes.
	atomic.StoreUint32(&slot.ready, 1)
}

// Load performs one acquire-ordered read of the slot at the given
// sequence's index and reports whether it currently holds that exact
// sequence, ready for delivery. It never blocks — the caller (the
// consumer loop) decides whether to spin, sleep, or treat a mismatched
// Seq as an overrun.
func (r *Ring) Load(seq uint64) (ev Event, ready bool) {
	slot := &r.slots[seq&r.mask]
	if atomic.LoadUint32(&slot.ready) == 0 {
		return Event{}, false
	}
	return LoadFromSlot(slot, seq)
}

// Poll is the consumer-facing counterpart of Load: it classifies the
// slot at cursor's index as NotReady, Delivered (holds exactly cursor),
// or Overrun (holds something newer), which is everything the consumer
// loop in internal/consumer needs to decide whether to dispatch, skip
// ahead and count drops, or spin/sleep.
func (r *Ring) Poll(cursor uint64) (Event, LoadStatus) {
	slot := &r.slots[cursor&r.mask]
	if atomic.LoadUint32(&slot.ready) == 0 {
		return Event{}, NotReady
	}
	ev, match := LoadFromSlot(slot, cursor)
	if match {
		return ev, Delivered
	}
	if ev.Seq > cursor {
		return ev, Overrun
	}
	return Event{}, NotReady
}

// Clear resets a slot's ready flag after consumption. Best-effort only:
// correctness never depends on it, because the next producer to claim
// this index will overwrite Seq and re-publish ready regardless (spec
// §4.3 step 3).
func (r *Ring) Clear(seq uint64) {
	slot := &r.slots[seq&r.mask]
	atomic.CompareAndSwapUint32(&slot.ready, 1, 0)
}
