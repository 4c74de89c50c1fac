package fanout

import (
	"context"
	"fmt"

	"github.com/sentryd/sentryd/internal/fanout/rpc"
	"github.com/sentryd/sentryd/internal/procstate"
)

// ProcessLookup is the subset of *procstate.Store the gRPC surface
// needs for GetProcess/ListLive.
type ProcessLookup interface {
	GetByPid(pid uint32) (procstate.Record, bool)
	Live() []procstate.Record
}

// GRPCServer implements rpc.Server over this package's buses and a
// process-state lookup, the concrete wiring behind the hand-rolled
// gRPC service descriptor in internal/fanout/rpc.
type GRPCServer struct {
	events *Bus[EventView]
	alerts *Bus[AlertView]
	lookup ProcessLookup
	subBuf int
}

// NewGRPCServer builds the gRPC-facing adapter over the given buses
// and process lookup. subBuf sizes each new streaming subscriber's
// queue.
func NewGRPCServer(events *Bus[EventView], alerts *Bus[AlertView], lookup ProcessLookup, subBuf int) *GRPCServer {
	if subBuf <= 0 {
		subBuf = 256
	}
	return &GRPCServer{events: events, alerts: alerts, lookup: lookup, subBuf: subBuf}
}

// StreamEvents implements rpc.Server.
func (s *GRPCServer) StreamEvents(_ *rpc.Empty, stream rpc.EventStream) error {
	sub, unsub := s.events.Subscribe(s.subBuf, DropOldest)
	defer unsub()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			msg := &rpc.EventMsg{
				Seq: ev.Seq, TsNs: ev.TsNs, Cpu: ev.CPU, Kind: ev.Kind,
				Pid: ev.Pid, Tgid: ev.Tgid, Ppid: ev.Ppid, ExitCode: ev.ExitCode, Comm: ev.Comm,
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// StreamAlerts implements rpc.Server.
func (s *GRPCServer) StreamAlerts(_ *rpc.Empty, stream rpc.AlertStream) error {
	sub, unsub := s.alerts.Subscribe(s.subBuf, DropNewest)
	defer unsub()

	for {
		select {
		case a, ok := <-sub.C():
			if !ok {
				return nil
			}
			msg := &rpc.AlertMsg{
				RuleID: a.RuleID, Severity: a.Severity,
				TargetKind: a.TargetKind, TargetID: a.TargetID, FirstSeenNs: a.FirstSeenNs,
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// ListLive implements rpc.Server, sending the current live set once
// and returning (a snapshot, not a subscription).
func (s *GRPCServer) ListLive(_ *rpc.Empty, stream rpc.ProcessStream) error {
	for _, rec := range s.lookup.Live() {
		msg := &rpc.ProcessRecord{
			Pid: rec.Pid, Tgid: rec.Tgid, Ppid: rec.Ppid,
			Comm: rec.Comm, Status: string(rec.Status()), ExitCode: rec.ExitCode,
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// GetProcess implements rpc.Server.
func (s *GRPCServer) GetProcess(_ context.Context, req *rpc.ProcessQuery) (*rpc.ProcessRecord, error) {
	rec, ok := s.lookup.GetByPid(req.Pid)
	if !ok {
		return nil, fmt.Errorf("pid %d not found", req.Pid)
	}
	return &rpc.ProcessRecord{
		Pid: rec.Pid, Tgid: rec.Tgid, Ppid: rec.Ppid,
		Comm: rec.Comm, Status: string(rec.Status()), ExitCode: rec.ExitCode,
	}, nil
}
