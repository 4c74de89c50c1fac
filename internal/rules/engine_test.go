package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *recordingSink) Emit(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) snapshot() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

func (s *recordingSink) countByRule(rule string) int {
	n := 0
	for _, a := range s.snapshot() {
		if a.RuleID == rule {
			n++
		}
	}
	return n
}

type staticAncestry struct {
	roots map[uint32]uint32
}

func (a staticAncestry) AncestryRoot(pid uint32) uint32 {
	if root, ok := a.roots[pid]; ok {
		return root
	}
	return pid
}

func TestForkStormFiresOncePerCooldown(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	base := uint64(time.Now().UnixNano())
	// 24 forks over 2s for pid 500, comfortably above the 20-in-2s
	// fork_storm default threshold (spec scenario 1: 12/s for 2s).
	for i := 0; i < 24; i++ {
		ts := base + uint64(i)*time.Duration(83*time.Millisecond).Nanoseconds()
		e.HandleFork(500, 0, ts)
	}

	assert.Equal(t, 1, sink.countByRule(RuleForkStorm))
}

func TestForkBurstFiresAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	base := uint64(time.Now().UnixNano())
	for i := 0; i < 30; i++ {
		ts := base + uint64(i)*100*uint64(time.Millisecond)
		e.HandleFork(600, 0, ts)
	}

	assert.GreaterOrEqual(t, sink.countByRule(RuleForkBurst), 1)
}

func TestExecChurnFiresAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	base := uint64(time.Now().UnixNano())
	for i := 0; i < 20; i++ {
		ts := base + uint64(i)*200*uint64(time.Millisecond)
		e.HandleExec(700, ts)
	}

	assert.Equal(t, 1, sink.countByRule(RuleExecChurn))
}

func TestShortLivedJobRequiresCgroupAndFastExit(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	base := uint64(time.Now().UnixNano())
	for i := uint32(0); i < 25; i++ {
		pid := 1000 + i
		execTs := base + uint64(i)*300*uint64(time.Millisecond)
		exitTs := execTs + uint64(200*time.Millisecond)
		e.HandleExec(pid, execTs)
		e.HandleExit(pid, 77, exitTs)
	}

	require.Equal(t, 1, sink.countByRule(RuleShortLivedJob))
}

func TestShortLivedJobIgnoresSlowExit(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	base := uint64(time.Now().UnixNano())
	for i := uint32(0); i < 25; i++ {
		pid := 2000 + i
		execTs := base + uint64(i)*300*uint64(time.Millisecond)
		exitTs := execTs + uint64(2*time.Second) // well over the 1s cutoff
		e.HandleExec(pid, execTs)
		e.HandleExit(pid, 88, exitTs)
	}

	assert.Equal(t, 0, sink.countByRule(RuleShortLivedJob))
}

func TestZombieAccumulationGroupsByLineageRoot(t *testing.T) {
	sink := &recordingSink{}
	ancestry := staticAncestry{roots: map[uint32]uint32{}}
	for pid := uint32(3001); pid < 3001+55; pid++ {
		ancestry.roots[pid] = 3000
	}
	e := New(Config{}, sink, ancestry)

	base := uint64(time.Now().UnixNano())
	for i := uint32(0); i < 55; i++ {
		pid := 3001 + i
		e.HandleExit(pid, 0, base+uint64(i)*uint64(time.Millisecond))
	}

	assert.Equal(t, 1, sink.countByRule(RuleZombieAccumulation))
}

func TestDetectorPanicIsIsolated(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{}, sink, nil)

	assert.NotPanics(t, func() {
		e.runDetector("boom", func() { panic("synthetic failure") })
	})
	assert.EqualValues(t, 1, e.AnomalyCount())

	// Engine keeps working after a recovered panic.
	e.HandleFork(1, 0, uint64(time.Now().UnixNano()))
}

func TestConfigOverridesThresholdAndCooldown(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{
		Thresholds: map[string]uint64{RuleForkBurst: 3},
		Cooldowns:  map[string]time.Duration{RuleForkBurst: time.Hour},
	}
	e := New(cfg, sink, nil)

	base := uint64(time.Now().UnixNano())
	for i := 0; i < 3; i++ {
		e.HandleFork(900, 0, base+uint64(i)*uint64(time.Millisecond))
	}
	assert.Equal(t, 1, sink.countByRule(RuleForkBurst))

	// A fourth fork is still within the 1-hour cooldown.
	e.HandleFork(900, 0, base+4*uint64(time.Millisecond))
	assert.Equal(t, 1, sink.countByRule(RuleForkBurst))
}
