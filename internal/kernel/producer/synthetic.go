package producer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sentryd/sentryd/internal/safe"
	"github.com/sentryd/sentryd/internal/sequencer"
)

// SyntheticConfig parameterizes the software event generator used in
// place of a real kernel producer.
type SyntheticConfig struct {
	// CPUs is the number of concurrent goroutines claiming tickets,
	// standing in for distinct producing CPUs.
	CPUs int
	// EventsPerSecond is the aggregate target rate across all CPUs.
	EventsPerSecond float64
	// Seed makes a run reproducible; zero picks a time-derived seed.
	Seed int64
	// InitPID seeds the process tree with a single root process, the
	// way pid 1 exists before the agent ever starts observing.
	InitPID uint32
}

func (c *SyntheticConfig) withDefaults() *SyntheticConfig {
	cfg := *c
	if cfg.CPUs <= 0 {
		cfg.CPUs = 4
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 200
	}
	if cfg.InitPID == 0 {
		cfg.InitPID = 1
	}
	return &cfg
}

// Synthetic is a Producer that simulates a plausible fork/exec/exit
// process tree without any kernel involvement: useful for tests, for
// CI, and for any build where BPF_OBJECT_PATH is unset.
type Synthetic struct {
	cfg  *SyntheticConfig
	ring *sequencer.Ring

	mu       sync.Mutex
	rng      *rand.Rand
	live     []uint32 // currently-alive pids, eligible to fork/exec/exit
	nextPid  uint32
	comms    []string
	stopOnce sync.Once
	stopped  chan struct{}
}

var defaultComms = []string{"bash", "sh", "python3", "curl", "sshd", "nginx", "cron", "sleep", "cat", "node"}

// NewSynthetic builds a Synthetic producer backed by a fresh ring of
// cfg.RingSize slots.
func NewSynthetic(cfg Config) *Synthetic {
	sc := (&SyntheticConfig{}).withDefaults()
	if cfg.Synthetic != nil {
		sc = cfg.Synthetic.withDefaults()
	}
	seed := sc.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthetic{
		cfg:     sc,
		ring:    sequencer.NewRing(cfg.RingSize),
		rng:     rand.New(rand.NewSource(seed)),
		live:    []uint32{sc.InitPID},
		nextPid: sc.InitPID + 1,
		comms:   defaultComms,
		stopped: make(chan struct{}),
	}
}

// Source implements Producer.
func (s *Synthetic) Source() Source { return s.ring }

// Run spawns cfg.CPUs generator goroutines and blocks until ctx is done.
func (s *Synthetic) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) * float64(s.cfg.CPUs) / s.cfg.EventsPerSecond)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var wg sync.WaitGroup
	for cpu := 0; cpu < s.cfg.CPUs; cpu++ {
		wg.Add(1)
		cpuID := uint32(cpu)
		safe.Go(func() {
			defer wg.Done()
			s.generate(ctx, cpuID, interval)
		})
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops any in-flight generator loop. Run already returns once ctx
// is canceled, so Close only needs to unblock a caller waiting on it
// separately.
func (s *Synthetic) Close() error {
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

func (s *Synthetic) generate(ctx context.Context, cpuID uint32, interval time.Duration) {
	ticker := time.NewTicker(jitter(interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			s.emit(cpuID)
			ticker.Reset(jitter(interval))
		}
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d)))
}

func (s *Synthetic) emit(cpuID uint32) {
	s.mu.Lock()
	kind, pid, tgid, ppid, exitCode, comm := s.nextEvent()
	s.mu.Unlock()

	seq := s.ring.Claim()
	ts := uint64(time.Now().UnixNano())
	s.ring.Publish(seq, kind, func(slot *sequencer.Slot) {
		slot.TimestampNs = ts
		slot.Pid = pid
		slot.Tgid = tgid
		slot.Ppid = ppid
		slot.CPUID = cpuID
		slot.ExitCode = exitCode
		copy(slot.Comm[:], comm)
	})
}

// nextEvent picks fork/exec/exit weighted so the live set tends to grow
// slowly, matching how a real system spends most of its time with
// short-lived children rather than unbounded fork storms. Caller must
// hold s.mu.
func (s *Synthetic) nextEvent() (kind sequencer.Kind, pid, tgid, ppid uint32, exitCode int32, comm string) {
	roll := s.rng.Float64()
	switch {
	case roll < 0.45 || len(s.live) == 0:
		parent := s.randomLive()
		child := s.nextPid
		s.nextPid++
		s.live = append(s.live, child)
		return sequencer.KindFork, child, child, parent, 0, s.randomComm()
	case roll < 0.75:
		p := s.randomLive()
		return sequencer.KindExec, p, p, p, 0, s.randomComm()
	default:
		idx := s.rng.Intn(len(s.live))
		p := s.live[idx]
		if p == s.cfg.InitPID {
			// never reap the root; pick exec instead.
			return sequencer.KindExec, p, p, p, 0, s.randomComm()
		}
		s.live = append(s.live[:idx], s.live[idx+1:]...)
		return sequencer.KindExit, p, p, p, int32(s.rng.Intn(2) * 1), s.randomComm()
	}
}

func (s *Synthetic) randomLive() uint32 {
	return s.live[s.rng.Intn(len(s.live))]
}

func (s *Synthetic) randomComm() string {
	return s.comms[s.rng.Intn(len(s.comms))]
}
