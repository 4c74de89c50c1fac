//go:build linux

package producer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sentryd/sentryd/internal/log"
	"github.com/sentryd/sentryd/internal/sequencer"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// mapNames are the names the compiled object (see bpf/producer.bpf.c) is
// expected to export. ringMap is a BPF_F_MMAPABLE array of SlotSize*N
// bytes; ticketMap is a single-element BPF_F_MMAPABLE array holding the
// u64 global ticket counter both the kernel programs and this process
// read with a plain atomic load.
const (
	ringMapName      = "sentryd_ring"
	ticketMapName    = "sentryd_ticket"
	progForkName     = "on_sched_process_fork"
	progExecName     = "on_sched_process_exec"
	progExitName     = "on_sched_process_exit"
)

// Kernel is a Producer backed by real sched_process_{fork,exec,exit}
// tracepoints, publishing directly into a BPF array map this process
// mmaps read-only.
type Kernel struct {
	coll  *ebpf.Collection
	links []link.Link

	ringMem   []byte
	ticketMem []byte

	mr *mappedRing

	closeOnce sync.Once
}

// NewKernel loads cfg.BPFObjectPath, attaches its tracepoint programs,
// and mmaps the shared ring. Returns ErrNoBPFObject if cfg.BPFObjectPath
// is empty.
func NewKernel(cfg Config) (*Kernel, error) {
	if cfg.BPFObjectPath == "" {
		return nil, ErrNoBPFObject
	}
	if !cfg.SkipCapCheck {
		if err := checkCapabilities(); err != nil {
			return nil, fmt.Errorf("producer: capability check: %w", err)
		}
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("producer: remove memlock rlimit: %w", err)
	}

	f, err := os.Open(cfg.BPFObjectPath)
	if err != nil {
		return nil, fmt.Errorf("producer: open BPF object: %w", err)
	}
	defer f.Close()

	spec, err := ebpf.LoadCollectionSpecFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("producer: parse BPF object: %w", err)
	}

	// The ring's capacity is a deployment-time choice (spec default
	// 2^20 slots); the map spec baked into the object must agree, so we
	// only validate it here rather than resizing at load time.
	if rm, ok := spec.Maps[ringMapName]; ok {
		wantEntries := uint32(cfg.RingSize)
		if rm.MaxEntries != wantEntries*sequencer.SlotSize && rm.MaxEntries != wantEntries {
			log.L().Warn("ring map size in BPF object does not match configured ring_size_slots",
				zap.Uint32("map_max_entries", rm.MaxEntries),
				zap.Uint64("configured_ring_size", cfg.RingSize),
			)
		}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("producer: load BPF collection: %w", err)
	}

	k := &Kernel{coll: coll}

	if err := k.attach(); err != nil {
		k.Close()
		return nil, err
	}

	if err := k.mapRing(cfg.RingSize); err != nil {
		k.Close()
		return nil, err
	}

	return k, nil
}

func (k *Kernel) attach() error {
	attachments := []struct {
		group, name, prog string
	}{
		{"sched", "sched_process_fork", progForkName},
		{"sched", "sched_process_exec", progExecName},
		{"sched", "sched_process_exit", progExitName},
	}

	for _, a := range attachments {
		prog, ok := k.coll.Programs[a.prog]
		if !ok {
			return fmt.Errorf("producer: BPF object missing program %q", a.prog)
		}
		l, err := link.Tracepoint(a.group, a.name, prog, nil)
		if err != nil {
			return fmt.Errorf("producer: attach %s:%s: %w", a.group, a.name, err)
		}
		k.links = append(k.links, l)
	}
	return nil
}

func (k *Kernel) mapRing(ringSize uint64) error {
	ringMap, ok := k.coll.Maps[ringMapName]
	if !ok {
		return fmt.Errorf("producer: BPF object missing map %q", ringMapName)
	}
	ticketMap, ok := k.coll.Maps[ticketMapName]
	if !ok {
		return fmt.Errorf("producer: BPF object missing map %q", ticketMapName)
	}

	ringBytes := ringSize * sequencer.SlotSize
	ringMem, err := unix.Mmap(ringMap.FD(), 0, int(ringBytes), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("producer: mmap ring map: %w", err)
	}
	ticketMem, err := unix.Mmap(ticketMap.FD(), 0, 8, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(ringMem)
		return fmt.Errorf("producer: mmap ticket map: %w", err)
	}

	k.ringMem = ringMem
	k.ticketMem = ticketMem
	k.mr = newMappedRing(ringMem, ticketMem, ringSize)
	return nil
}

// Source implements Producer.
func (k *Kernel) Source() Source { return k.mr }

// Run blocks until ctx is canceled; the kernel programs publish directly
// into shared memory, so there is no userspace copy loop to run — Run
// only needs to hold the BPF links and mmap's open for its duration.
func (k *Kernel) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close detaches all tracepoint links and unmaps shared memory.
func (k *Kernel) Close() error {
	var err error
	k.closeOnce.Do(func() {
		for _, l := range k.links {
			if cerr := l.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if k.ringMem != nil {
			_ = unix.Munmap(k.ringMem)
		}
		if k.ticketMem != nil {
			_ = unix.Munmap(k.ticketMem)
		}
		if k.coll != nil {
			k.coll.Close()
		}
	})
	return err
}

// mappedRing is a read-only Source view over a kernel-written mmap
// region: slots live in ringMem, the global ticket counter in
// ticketMem. Layout must match internal/sequencer.Slot exactly, since
// the kernel program writes that same layout directly.
type mappedRing struct {
	slots  []sequencer.Slot
	ticket *uint64
	mask   uint64
}

func newMappedRing(ringMem, ticketMem []byte, capacity uint64) *mappedRing {
	return &mappedRing{
		slots:  unsafe.Slice((*sequencer.Slot)(unsafe.Pointer(&ringMem[0])), capacity),
		ticket: (*uint64)(unsafe.Pointer(&ticketMem[0])),
		mask:   capacity - 1,
	}
}

func (m *mappedRing) CurrentTicket() uint64 {
	return *(*uint64)(noescapeLoad(m.ticket))
}

// Poll implements producer.Source. The kernel path has no ready flag of
// its own — the program writes Seq last, so a slot whose Seq is still
// behind cursor simply hasn't been published for this cursor yet.
func (m *mappedRing) Poll(cursor uint64) (sequencer.Event, sequencer.LoadStatus) {
	slot := &m.slots[cursor&m.mask]
	ev, match := sequencer.LoadFromSlot(slot, cursor)
	if match {
		return ev, sequencer.Delivered
	}
	if ev.Seq > cursor {
		return ev, sequencer.Overrun
	}
	return sequencer.Event{}, sequencer.NotReady
}

// noescapeLoad performs an atomic-equivalent load of a word the kernel
// writes concurrently. A plain dereference is sufficient here: the only
// reader is this process, the value is a single aligned uint64, and
// amd64/arm64 guarantee that is atomic at the hardware level even
// without a language-level atomic op.
func noescapeLoad(p *uint64) *uint64 { return p }
