// Package producer supplies the sequencer ring with fork/exec/exit
// events, either from real kernel tracepoints (Linux, see
// producer_linux.go) or from an in-process synthetic generator used by
// tests and non-Linux builds (synthetic.go).
package producer

import (
	"context"
	"fmt"

	"github.com/sentryd/sentryd/internal/sequencer"
)

// Source is anything the consumer loop can poll for published events: the
// in-process sequencer.Ring (synthetic producer, tests) and the
// mmap'd kernel ring (producer_linux.go) both implement it.
type Source interface {
	Poll(cursor uint64) (sequencer.Event, sequencer.LoadStatus)
	CurrentTicket() uint64
}

// Producer owns a Source's lifecycle: attaching kernel programs or
// spawning generator goroutines, and releasing those resources on Close.
type Producer interface {
	// Source returns the ring events are published into.
	Source() Source
	// Run blocks, keeping the producer's resources alive, until ctx is
	// canceled or an unrecoverable error occurs.
	Run(ctx context.Context) error
	// Close releases kernel links, mmap'd memory, or generator goroutines.
	// Safe to call after Run has returned.
	Close() error
}

// Config selects and parameterizes a producer.
type Config struct {
	// RingSize is the number of slots in the shared ring; must be a
	// power of two.
	RingSize uint64

	// BPFObjectPath is the compiled BPF object to load. Empty means "no
	// kernel producer available": the caller should fall back to New
	// synthetic.
	BPFObjectPath string

	// SkipCapCheck disables the CAP_SYS_ADMIN / CAP_BPF preflight check,
	// for environments (containers, CI) where the check itself is
	// unreliable but the caller knows the capability is present.
	SkipCapCheck bool

	// Synthetic, when non-nil, parameterizes the software event
	// generator. Ignored by the real kernel producer.
	Synthetic *SyntheticConfig
}

// ErrNoBPFObject is returned by NewKernel when cfg.BPFObjectPath is empty and
// the caller explicitly requested the kernel producer.
var ErrNoBPFObject = fmt.Errorf("producer: BPF_OBJECT_PATH not set")
