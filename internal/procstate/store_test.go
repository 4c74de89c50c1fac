package procstate

import (
	"testing"
	"time"

	"github.com/sentryd/sentryd/internal/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forkEvent(pid, ppid uint32, comm string) sequencer.Event {
	return sequencer.Event{Pid: pid, Tgid: pid, Ppid: ppid, Kind: sequencer.KindFork, Comm: comm}
}

func execEvent(pid uint32, comm string) sequencer.Event {
	return sequencer.Event{Pid: pid, Tgid: pid, Kind: sequencer.KindExec, Comm: comm}
}

func exitEvent(pid uint32, code int32) sequencer.Event {
	return sequencer.Event{Pid: pid, Tgid: pid, Kind: sequencer.KindExit, ExitCode: code}
}

func TestApplyForkCreatesLiveRecord(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(100, 1, "bash"))

	rec, ok := s.GetByPid(100)
	require.True(t, ok)
	assert.Equal(t, StatusAlive, rec.Status())
	assert.Equal(t, "bash", rec.Comm)
	assert.EqualValues(t, 1, rec.Ppid)
}

func TestApplyForkSynthesizesMissingParent(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(100, 50, "sh"))

	parent, ok := s.GetByPid(50)
	require.True(t, ok)
	assert.Equal(t, OriginUnknown, parent.Origin)
}

func TestApplyExecUpdatesCommAndStaysAlive(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(100, 1, "sh"))
	s.Apply(execEvent(100, "python3"))

	rec, ok := s.GetByPid(100)
	require.True(t, ok)
	assert.Equal(t, "python3", rec.Comm)
	assert.Equal(t, StatusAlive, rec.Status())
	assert.EqualValues(t, 1, rec.ExecCount)
}

func TestApplyExitMovesRecordToReaped(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(100, 1, "sleep"))
	s.Apply(exitEvent(100, 0))

	live, reaped := s.Counts()
	assert.Equal(t, 0, live)
	assert.Equal(t, 1, reaped)

	rec, ok := s.GetByPid(100)
	require.True(t, ok)
	assert.Equal(t, StatusReaped, rec.Status())
}

func TestApplyExitWithoutForkRecordsLoneExitAnomaly(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(exitEvent(999, 1))

	counts := s.AnomalyCounts()
	assert.EqualValues(t, 1, counts[AnomalyLoneExit])
}

func TestAncestryWalksForkChain(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(1, 0, "init"))
	s.Apply(forkEvent(2, 1, "bash"))
	s.Apply(forkEvent(3, 2, "make"))

	chain, cyclic := s.Ancestry(3)
	require.False(t, cyclic)
	require.Len(t, chain, 3)
	assert.EqualValues(t, 3, chain[0].Pid)
	assert.EqualValues(t, 2, chain[1].Pid)
	assert.EqualValues(t, 1, chain[2].Pid)
}

func TestAncestryDetectsCycle(t *testing.T) {
	s := New(Config{}, nil)
	// Fabricate a cycle directly: two records whose ppid points at each
	// other, a corrupt state that should never occur from real fork
	// events but the walk must still terminate and flag it.
	s.mu.Lock()
	s.live[10] = newRecord(10, 10, 20, "a", OriginObserved, 0)
	s.live[20] = newRecord(20, 20, 10, "b", OriginObserved, 0)
	s.mu.Unlock()

	_, cyclic := s.Ancestry(10)
	assert.True(t, cyclic)

	counts := s.AnomalyCounts()
	assert.EqualValues(t, 1, counts[AnomalyPpidCycle])
}

func TestEvictExpiredRemovesOldReapedRecords(t *testing.T) {
	s := New(Config{ReapWindow: time.Millisecond}, nil)
	s.Apply(forkEvent(100, 1, "sleep"))
	s.Apply(exitEvent(100, 0))

	time.Sleep(5 * time.Millisecond)
	evicted := s.EvictExpired(time.Now())
	assert.Equal(t, 1, evicted)

	_, ok := s.GetByPid(100)
	assert.False(t, ok)
}

func TestHardCapEvictsOldestReapedFirst(t *testing.T) {
	s := New(Config{HardCap: 3, ReapWindow: time.Hour}, nil)
	for i := uint32(1); i <= 5; i++ {
		s.Apply(forkEvent(i, 0, "x"))
		s.Apply(exitEvent(i, 0))
		time.Sleep(time.Millisecond)
	}

	live, reaped := s.Counts()
	assert.Equal(t, 0, live)
	assert.LessOrEqual(t, live+reaped, 3)

	// The earliest reaped pids should have been evicted first.
	_, ok := s.GetByPid(1)
	assert.False(t, ok)
}

func TestChildrenReturnsDirectDescendants(t *testing.T) {
	s := New(Config{}, nil)
	s.Apply(forkEvent(1, 0, "init"))
	s.Apply(forkEvent(2, 1, "a"))
	s.Apply(forkEvent(3, 1, "b"))
	s.Apply(forkEvent(4, 2, "c"))

	children := s.Children(1)
	assert.Len(t, children, 2)
}
