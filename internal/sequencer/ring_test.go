package sequencer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { NewRing(0) })
	assert.Panics(t, func() { NewRing(3) })
	assert.Panics(t, func() { NewRing(100) })
	assert.NotPanics(t, func() { NewRing(16) })
}

func TestPublishLoadRoundTrip(t *testing.T) {
	r := NewRing(8)
	seq := r.Claim()
	require.EqualValues(t, 0, seq)

	r.Publish(seq, KindFork, func(s *Slot) {
		s.Pid = 1234
		s.Tgid = 1234
		s.Ppid = 1
		s.TimestampNs = 999
		copy(s.Comm[:], "init")
	})

	ev, ready := r.Load(seq)
	require.True(t, ready)
	assert.Equal(t, uint64(0), ev.Seq)
	assert.Equal(t, KindFork, ev.Kind)
	assert.EqualValues(t, 1234, ev.Pid)
	assert.Equal(t, "init", ev.Comm)
}

func TestLoadOnUnpublishedSlotNotReady(t *testing.T) {
	r := NewRing(4)
	_, ready := r.Load(0)
	assert.False(t, ready)
}

func TestLoadDetectsOverrunAfterWrap(t *testing.T) {
	r := NewRing(4)

	seq0 := r.Claim()
	r.Publish(seq0, KindFork, func(s *Slot) { s.Pid = 1 })

	for i := 0; i < 4; i++ {
		seq := r.Claim()
		r.Publish(seq, KindExec, func(s *Slot) { s.Pid = uint32(seq) })
	}

	// seq0's slot has been overwritten by seq4 (same index, ring size 4).
	_, ready := r.Load(seq0)
	assert.False(t, ready, "stale sequence must report not-ready once overwritten")
}

func TestClaimIsUniquePerCaller(t *testing.T) {
	r := NewRing(1 << 16)
	const n = 2000
	var wg sync.WaitGroup
	seqs := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs[i] = r.Claim()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, s := range seqs {
		require.False(t, seen[s], "ticket %d claimed twice", s)
		seen[s] = true
	}
}

func TestCurrentTicketAdvancesWithClaims(t *testing.T) {
	r := NewRing(8)
	assert.EqualValues(t, 0, r.CurrentTicket())
	r.Claim()
	r.Claim()
	assert.EqualValues(t, 2, r.CurrentTicket())
}

func TestCommFillingEntireFieldIsReturnedUnterminated(t *testing.T) {
	r := NewRing(4)
	seq := r.Claim()
	full := [CommLen]byte{}
	for i := range full {
		full[i] = 'x'
	}
	r.Publish(seq, KindExec, func(s *Slot) { s.Comm = full })

	ev, ready := r.Load(seq)
	require.True(t, ready)
	assert.Len(t, ev.Comm, CommLen)
}
