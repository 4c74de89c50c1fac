package procstate

import "github.com/sentryd/sentryd/pkg/statemachine"

// Origin distinguishes a record created from an observed FORK from one
// synthesized because an event referenced a pid the agent had never
// seen before (spec §4.4 "UNKNOWN-ORIGIN").
type Origin uint8

const (
	// OriginObserved means the record was created by a FORK event the
	// agent itself witnessed.
	OriginObserved Origin = iota
	// OriginUnknown means the record was synthesized to satisfy a
	// reference (EXEC, EXIT, or ppid lookup) for a pid that predates
	// agent start.
	OriginUnknown
)

// Status is the lifecycle state of a process record.
type Status string

const (
	StatusAlive  Status = "ALIVE"
	StatusReaped Status = "REAPED"
)

// transition events driving the per-pid state machine.
const (
	eventFork statemachine.Event = "fork"
	eventExec statemachine.Event = "exec"
	eventExit statemachine.Event = "exit"
)

// newRecordMachine builds the ALIVE/REAPED state machine shared by every
// Record. FORK and EXEC both keep a record ALIVE (EXEC is a self-loop);
// EXIT is the only transition out.
func newRecordMachine() *statemachine.StateMachine[Status] {
	sm := statemachine.NewWithState(StatusAlive)
	sm.AddEventTransition(StatusAlive, eventFork, StatusAlive)
	sm.AddEventTransition(StatusAlive, eventExec, StatusAlive)
	sm.AddEventTransition(StatusAlive, eventExit, StatusReaped)
	return sm
}

// Record is the reconstructed state of one observed process (spec §3
// "Process-state record").
type Record struct {
	Pid  uint32
	Tgid uint32
	Ppid uint32
	Comm string

	Origin Origin

	CgroupID    uint64
	CgroupPath  string
	ContainerID string

	StartTimeNs int64
	ExitTimeNs  int64
	ExitCode    int32

	ForkChildren int64
	ExecCount    int64

	// frozenStatus holds the lifecycle state for a snapshot copy, whose
	// sm has been dropped; zero value on a live Record, which always
	// consults sm instead.
	frozenStatus Status
	sm           *statemachine.StateMachine[Status]
}

func newRecord(pid, tgid, ppid uint32, comm string, origin Origin, startTimeNs int64) *Record {
	return &Record{
		Pid:         pid,
		Tgid:        tgid,
		Ppid:        ppid,
		Comm:        comm,
		Origin:      origin,
		StartTimeNs: startTimeNs,
		sm:          newRecordMachine(),
	}
}

// Status returns the record's current lifecycle state.
func (r *Record) Status() Status {
	if r.sm == nil {
		return r.frozenStatus
	}
	return r.sm.Current()
}

// snapshot returns a value copy safe to hand to a reader outside the
// consumer thread (spec §4.4 "read-mostly query interfaces").
func (r *Record) snapshot() Record {
	cp := *r
	cp.frozenStatus = r.Status()
	cp.sm = nil
	return cp
}
