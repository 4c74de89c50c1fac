package fanout

import (
	"github.com/sentryd/sentryd/internal/rules"
	"github.com/sentryd/sentryd/internal/sequencer"
)

// EventView is the wire shape of one delivered event (spec §6 "Event
// schema on the wire to subscribers"), decoupled from sequencer.Event
// so ring-internal field layout can change without touching the
// external contract.
type EventView struct {
	Seq      uint64
	TsNs     uint64
	CPU      uint32
	Kind     string
	Pid      uint32
	Tgid     uint32
	Ppid     uint32
	ExitCode int32
	Comm     string
}

func toEventView(ev sequencer.Event) EventView {
	return EventView{
		Seq:      ev.Seq,
		TsNs:     ev.TimestampNs,
		CPU:      ev.CPUID,
		Kind:     ev.Kind.String(),
		Pid:      ev.Pid,
		Tgid:     ev.Tgid,
		Ppid:     ev.Ppid,
		ExitCode: ev.ExitCode,
		Comm:     ev.Comm,
	}
}

// AlertView is the wire shape of one alert (spec §6 "Alert schema").
type AlertView struct {
	RuleID      string
	Severity    string
	TargetKind  string
	TargetID    string
	FirstSeenNs uint64
	Evidence    map[string]any
}

func toAlertView(a rules.Alert) AlertView {
	return AlertView{
		RuleID:      a.RuleID,
		Severity:    string(a.Severity),
		TargetKind:  string(a.Target.Kind),
		TargetID:    a.Target.ID,
		FirstSeenNs: a.FirstSeenNs,
		Evidence:    a.Evidence,
	}
}
