// Package procstate reconstructs per-pid process lifecycle state from
// the ordered event stream the consumer loop delivers.
package procstate

import (
	"sync"
	"time"

	"github.com/sentryd/sentryd/internal/log"
	"github.com/sentryd/sentryd/internal/sequencer"
	"go.uber.org/zap"
)

// AnomalyKind enumerates the state-anomaly counters of spec §7 item 4.
type AnomalyKind string

const (
	AnomalyPpidCycle  AnomalyKind = "ppid_cycle"
	AnomalyLoneExit   AnomalyKind = "lone_exit"
	AnomalyReexecLive AnomalyKind = "reexec_live"
)

// MetricsRecorder is the narrow surface the store needs from a metrics
// registry (internal/metrics.Registry satisfies it structurally); nil
// disables metrics emission entirely.
type MetricsRecorder interface {
	IncrCounter(key string, val float32)
}

// Config parameterizes the store's retention policy (spec §9 enumerated
// options: reap_window_secs, hard cap of spec §5).
type Config struct {
	ReapWindow time.Duration
	HardCap    int
	Metrics    MetricsRecorder
}

func (c Config) withDefaults() Config {
	if c.ReapWindow <= 0 {
		c.ReapWindow = 60 * time.Second
	}
	if c.HardCap <= 0 {
		c.HardCap = 200_000
	}
	return c
}

// reapedEntry pairs a reaped record with the wall-clock time it entered
// the reaped set, so the reaper can evict it once the window elapses.
type reapedEntry struct {
	record   *Record
	reapedAt time.Time
}

// Store is the single-writer process table: mutated only by the
// consumer thread (via Apply), read by any number of concurrent
// queriers (spec §4.4 "read-mostly query interfaces").
type Store struct {
	cfg      Config
	resolver CgroupResolver
	logger   *zap.Logger
	metrics  MetricsRecorder

	mu     sync.RWMutex
	live   map[uint32]*Record
	reaped map[uint32]reapedEntry

	// anomalies is guarded by its own mutex, not mu: Ancestry only ever
	// takes mu's read lock (spec §4.4/§9 permits concurrent ancestry
	// queriers), so a cycle it detects mid-walk must bump this counter
	// without upgrading to mu's write lock.
	anomMu    sync.Mutex
	anomalies map[AnomalyKind]uint64
}

// New creates an empty Store.
func New(cfg Config, resolver CgroupResolver) *Store {
	if resolver == nil {
		resolver = NoopCgroupResolver{}
	}
	return &Store{
		cfg:       cfg.withDefaults(),
		resolver:  resolver,
		logger:    log.L(),
		metrics:   cfg.Metrics,
		live:      make(map[uint32]*Record),
		reaped:    make(map[uint32]reapedEntry),
		anomalies: make(map[AnomalyKind]uint64),
	}
}

// Apply folds one ordered event into the process table (spec §4.4
// transition table). Must only be called from the consumer thread.
func (s *Store) Apply(ev sequencer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case sequencer.KindFork:
		s.applyFork(ev)
	case sequencer.KindExec:
		s.applyExec(ev)
	case sequencer.KindExit:
		s.applyExit(ev)
	}

	s.evictIfOverCap()
}

func (s *Store) applyFork(ev sequencer.Event) {
	// Parent record, if missing, is synthesized as UNKNOWN-ORIGIN ALIVE
	// (predates agent start) before the child is created.
	if _, ok := s.live[ev.Ppid]; !ok {
		if _, reaped := s.reaped[ev.Ppid]; !reaped && ev.Ppid != 0 {
			s.live[ev.Ppid] = newRecord(ev.Ppid, ev.Ppid, 0, "", OriginUnknown, 0)
		}
	}
	if parent, ok := s.live[ev.Ppid]; ok {
		parent.ForkChildren++
	}

	if existing, ok := s.live[ev.Pid]; ok {
		// A FORK for a pid already live (pid reuse beat the reaper, or a
		// duplicate delivery) replaces the stale record rather than
		// merging into it.
		_ = existing
	}
	rec := newRecord(ev.Pid, ev.Tgid, ev.Ppid, ev.Comm, OriginObserved, int64(ev.TimestampNs))
	s.resolveCgroup(rec)
	s.live[ev.Pid] = rec
}

func (s *Store) applyExec(ev sequencer.Event) {
	rec, ok := s.live[ev.Pid]
	if !ok {
		rec = newRecord(ev.Pid, ev.Tgid, ev.Ppid, ev.Comm, OriginUnknown, int64(ev.TimestampNs))
		s.resolveCgroup(rec)
		s.live[ev.Pid] = rec
		return
	}
	if err := rec.sm.TriggerEvent(eventExec); err != nil {
		s.logger.Debug("exec on non-alive record", zap.Uint32("pid", ev.Pid), zap.Error(err))
	}
	rec.Comm = ev.Comm
	rec.ExecCount++
}

func (s *Store) applyExit(ev sequencer.Event) {
	rec, ok := s.live[ev.Pid]
	if !ok {
		// EXIT for a pid never seen: recorded as a lone exit, weak
		// evidence for the rules engine, not an error (spec §4.4).
		s.incrAnomaly(AnomalyLoneExit)
		rec = newRecord(ev.Pid, ev.Tgid, ev.Ppid, ev.Comm, OriginUnknown, int64(ev.TimestampNs))
		rec.sm.SetCurrent(StatusAlive)
	}

	if err := rec.sm.TriggerEvent(eventExit); err != nil {
		s.logger.Debug("exit on non-alive record", zap.Uint32("pid", ev.Pid), zap.Error(err))
		rec.sm.SetCurrent(StatusReaped)
	}
	rec.ExitCode = ev.ExitCode
	rec.ExitTimeNs = int64(ev.TimestampNs)

	delete(s.live, ev.Pid)
	s.reaped[ev.Pid] = reapedEntry{record: rec, reapedAt: time.Now()}
}

func (s *Store) resolveCgroup(rec *Record) {
	id, path, err := s.resolver.Resolve(rec.Pid)
	if err != nil {
		s.logger.Debug("cgroup resolution failed", zap.Uint32("pid", rec.Pid), zap.Error(err))
		return
	}
	rec.CgroupID = id
	rec.CgroupPath = path
}

// evictIfOverCap enforces the hard cap on total tracked records (spec
// §5) by dropping the oldest reaped entries first. Caller must hold
// s.mu.
func (s *Store) evictIfOverCap() {
	total := len(s.live) + len(s.reaped)
	if total <= s.cfg.HardCap {
		return
	}
	overBy := total - s.cfg.HardCap

	type agedPid struct {
		pid      uint32
		reapedAt time.Time
	}
	oldest := make([]agedPid, 0, len(s.reaped))
	for pid, entry := range s.reaped {
		oldest = append(oldest, agedPid{pid, entry.reapedAt})
	}
	for i := 0; i < len(oldest) && overBy > 0; i++ {
		minIdx := i
		for j := i + 1; j < len(oldest); j++ {
			if oldest[j].reapedAt.Before(oldest[minIdx].reapedAt) {
				minIdx = j
			}
		}
		oldest[i], oldest[minIdx] = oldest[minIdx], oldest[i]
		delete(s.reaped, oldest[i].pid)
		overBy--
	}
}

// EvictExpired removes reaped records older than the configured reap
// window. Called by the periodic maintenance job (internal/procstate's
// reaper.go), never by Apply itself.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for pid, entry := range s.reaped {
		if now.Sub(entry.reapedAt) > s.cfg.ReapWindow {
			delete(s.reaped, pid)
			evicted++
		}
	}
	return evicted
}

// AnomalyCounts returns a snapshot of per-kind anomaly counters.
func (s *Store) AnomalyCounts() map[AnomalyKind]uint64 {
	s.anomMu.Lock()
	defer s.anomMu.Unlock()
	out := make(map[AnomalyKind]uint64, len(s.anomalies))
	for k, v := range s.anomalies {
		out[k] = v
	}
	return out
}

// recordOrPpidUnknown is the sentinel ppid used by Ancestry to mark a
// chain that terminated at a missing parent, rather than a cycle.
const recordOrPpidUnknown = 0

// Ancestry walks ppid from pid up to the first missing/unknown ancestor
// or until a cycle is detected, returning the chain in root-last order
// and whether a cycle was found (spec §4.4, §8 "Ancestry acyclicity").
func (s *Store) Ancestry(pid uint32) (chain []Record, cyclic bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uint32]bool)
	cur := pid
	maxSteps := len(s.live) + len(s.reaped) + 1
	for step := 0; step < maxSteps; step++ {
		if seen[cur] {
			s.incrAnomaly(AnomalyPpidCycle)
			return chain, true
		}
		seen[cur] = true

		rec, ok := s.live[cur]
		if !ok {
			if entry, ok2 := s.reaped[cur]; ok2 {
				rec = entry.record
			} else {
				return chain, false
			}
		}
		chain = append(chain, rec.snapshot())
		if rec.Ppid == recordOrPpidUnknown || rec.Ppid == cur {
			return chain, false
		}
		cur = rec.Ppid
	}
	return chain, false
}

// incrAnomaly bumps kind's counter under anomMu, safe to call from a
// caller holding mu's read lock, write lock, or no lock at all.
func (s *Store) incrAnomaly(kind AnomalyKind) {
	s.anomMu.Lock()
	s.anomalies[kind]++
	s.anomMu.Unlock()
	if s.metrics != nil {
		s.metrics.IncrCounter("procstate_anomaly_"+string(kind), 1)
	}
}
