package rules

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sentryd/sentryd/internal/log"
	"go.uber.org/zap"
)

// Sink receives alerts the engine emits. Implemented by the fan-out
// bus; kept as an interface here so the engine never depends on the
// fan-out package's queue/subscriber machinery.
type Sink interface {
	Emit(Alert)
}

// AncestryResolver looks up the topmost known ancestor of a pid, used
// by the zombie-accumulation detector to group reaped records by
// lineage rather than by individual pid (spec §4.5 "pid lineage").
type AncestryResolver interface {
	AncestryRoot(pid uint32) uint32
}

// MetricsRecorder is the narrow surface the engine needs from a
// metrics registry (internal/metrics.Registry satisfies it
// structurally); nil disables metrics emission entirely.
type MetricsRecorder interface {
	IncrCounter(key string, val float32)
}

// Config holds the two knobs spec.md's enumerated options table
// exposes per rule: thresholds and cooldowns. Missing entries fall
// back to the rule's default.
type Config struct {
	Thresholds map[string]uint64
	Cooldowns  map[string]time.Duration
	Metrics    MetricsRecorder
}

func (c Config) threshold(rule string) uint64 {
	if v, ok := c.Thresholds[rule]; ok {
		return v
	}
	return ruleDefs[rule].defaultThresh
}

func (c Config) cooldown(rule string) time.Duration {
	if v, ok := c.Cooldowns[rule]; ok {
		return v
	}
	return ruleDefs[rule].defaultCooldown
}

// Engine runs every detector against the consumer's event stream. It
// is driven entirely from the consumer thread; its one mutex is also
// taken by readers of its counters (AnomalyCount, AlertCounts).
type Engine struct {
	cfg      Config
	sink     Sink
	ancestry AncestryResolver
	metrics  MetricsRecorder
	logger   *zap.Logger

	cooldown *cooldownTracker

	mu sync.Mutex // guards the maps and counters below; taken briefly on every event and by the counter readers

	forkStormByPid    map[uint32]*window
	forkStormByCgroup map[string]*window
	forkBurstByPid    map[uint32]*window
	execByPid         map[uint32]*window
	shortLived        map[string]*window
	zombieByRoot      map[uint32]*window

	lastExecNs map[uint32]uint64

	anomalyCount uint64
	alertCounts  map[string]uint64
}

// New builds an Engine that emits to sink, optionally resolving
// ancestry roots via ancestry (nil disables the zombie-accumulation
// detector's lineage grouping, degrading it to per-pid grouping).
func New(cfg Config, sink Sink, ancestry AncestryResolver) *Engine {
	return &Engine{
		cfg:               cfg,
		sink:              sink,
		ancestry:          ancestry,
		logger:            log.L(),
		cooldown:          newCooldownTracker(),
		forkStormByPid:    make(map[uint32]*window),
		forkStormByCgroup: make(map[string]*window),
		forkBurstByPid:    make(map[uint32]*window),
		execByPid:         make(map[uint32]*window),
		shortLived:        make(map[string]*window),
		zombieByRoot:      make(map[uint32]*window),
		lastExecNs:        make(map[uint32]uint64),
		alertCounts:       make(map[string]uint64),
		metrics:           cfg.Metrics,
	}
}

// HandleFork folds one FORK event into the fork_storm and fork_burst
// detectors. cgroupID is the forking process's cgroup, 0 if unknown.
func (e *Engine) HandleFork(pid uint32, cgroupID uint64, tsNs uint64) {
	e.runDetector("fork_storm/fork_burst", func() {
		now := nsToTime(tsNs)

		pidWin := e.windowFor(e.forkStormByPid, pid, ruleDefs[RuleForkStorm].window)
		total := pidWin.Add(now, 1)
		e.maybeFire(RuleForkStorm, Target{TargetPid, fmt.Sprint(pid)}, total, tsNs, map[string]any{"pid": pid, "count": total})

		burstWin := e.windowFor(e.forkBurstByPid, pid, ruleDefs[RuleForkBurst].window)
		burstTotal := burstWin.Add(now, 1)
		e.maybeFire(RuleForkBurst, Target{TargetPid, fmt.Sprint(pid)}, burstTotal, tsNs, map[string]any{"pid": pid, "count": burstTotal})

		if cgroupID != 0 {
			key := fmt.Sprint(cgroupID)
			cgWin := e.cgroupWindow(e.forkStormByCgroup, key, ruleDefs[RuleForkStorm].window)
			cgTotal := cgWin.Add(now, 1)
			e.maybeFire(RuleForkStorm, Target{TargetCgroup, key}, cgTotal, tsNs, map[string]any{"cgroup": key, "count": cgTotal})
		}
	})
}

// HandleExec folds one EXEC into the exec_churn detector and records
// the exec time for the short-lived-job detector's later EXIT pairing.
func (e *Engine) HandleExec(pid uint32, tsNs uint64) {
	e.runDetector("exec_churn", func() {
		now := nsToTime(tsNs)
		win := e.windowFor(e.execByPid, pid, ruleDefs[RuleExecChurn].window)
		total := win.Add(now, 1)
		e.mu.Lock()
		e.lastExecNs[pid] = tsNs
		e.mu.Unlock()
		e.maybeFire(RuleExecChurn, Target{TargetPid, fmt.Sprint(pid)}, total, tsNs, map[string]any{"pid": pid, "count": total})
	})
}

// HandleExit folds one EXIT into the short-lived-job detector (if the
// exit follows a recorded EXEC within the threshold gap) and the
// zombie-accumulation detector, grouped by lineage root.
func (e *Engine) HandleExit(pid uint32, cgroupID uint64, tsNs uint64) {
	e.runDetector("short_lived_job", func() {
		e.mu.Lock()
		execAt, hadExec := e.lastExecNs[pid]
		delete(e.lastExecNs, pid)
		e.mu.Unlock()

		if hadExec && cgroupID != 0 && tsNs >= execAt && time.Duration(tsNs-execAt) < shortLivedJobMaxDt {
			now := nsToTime(tsNs)
			key := fmt.Sprint(cgroupID)
			win := e.cgroupWindow(e.shortLived, key, ruleDefs[RuleShortLivedJob].window)
			total := win.Add(now, 1)
			e.maybeFire(RuleShortLivedJob, Target{TargetCgroup, key}, total, tsNs, map[string]any{"cgroup": key, "count": total})
		}
	})

	e.runDetector("zombie_accumulation", func() {
		root := pid
		if e.ancestry != nil {
			if r := e.ancestry.AncestryRoot(pid); r != 0 {
				root = r
			}
		}
		now := nsToTime(tsNs)
		win := e.windowFor(e.zombieByRoot, root, ruleDefs[RuleZombieAccumulation].window)
		total := win.Add(now, 1)
		e.maybeFire(RuleZombieAccumulation, Target{TargetPid, fmt.Sprint(root)}, total, tsNs, map[string]any{"lineage_root": root, "count": total})
	})
}

func (e *Engine) windowFor(m map[uint32]*window, key uint32, span time.Duration) *window {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := m[key]
	if !ok {
		w = newWindow(span)
		m[key] = w
	}
	return w
}

func (e *Engine) cgroupWindow(m map[string]*window, key string, span time.Duration) *window {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := m[key]
	if !ok {
		w = newWindow(span)
		m[key] = w
	}
	return w
}

func (e *Engine) maybeFire(rule string, target Target, total uint64, tsNs uint64, evidence map[string]any) {
	if total < e.cfg.threshold(rule) {
		return
	}
	now := time.Now()
	if !e.cooldown.allow(rule, target, e.cfg.cooldown(rule), now) {
		return
	}
	def := ruleDefs[rule]
	alert := newAlert(rule, def.severity, target, tsNs, evidence)

	e.mu.Lock()
	e.alertCounts[rule]++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IncrCounter("rules_alerts_"+rule, 1)
	}

	e.sink.Emit(alert)
}

// runDetector isolates a single detector's panic so one misbehaving
// rule never takes the engine down (spec §4.5 "Failure semantics"). It
// recovers locally, rather than through safe.DoNamed, so it can also
// bump the anomaly counter the health interface exposes.
func (e *Engine) runDetector(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.anomalyCount++
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.IncrCounter("rules_engine_failures", 1)
			}
			e.logger.Error("detector panic recovered",
				zap.String("detector", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	f()
}

// AnomalyCount returns how many detector panics have been recovered.
func (e *Engine) AnomalyCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anomalyCount
}

// AlertCounts returns a snapshot of how many alerts each rule has
// fired, the "alerts by rule" counter set the health interface reports.
func (e *Engine) AlertCounts() map[string]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]uint64, len(e.alertCounts))
	for k, v := range e.alertCounts {
		out[k] = v
	}
	return out
}

func nsToTime(tsNs uint64) time.Time {
	return time.Unix(0, int64(tsNs))
}
