// Package rpc exposes the fan-out bus over gRPC (spec §4.6, §6 "Event
// schema on the wire to subscribers"). Messages are hand-marshaled
// with protowire rather than generated from a .proto file, since this
// repository ships no protoc build step; the wire shapes below mirror
// the field numbering a generated message would use, so a future
// switch to real codegen would be wire-compatible.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Empty is the zero-field request used by streaming RPCs that take no
// parameters (StreamEvents, StreamAlerts, ListLive).
type Empty struct{}

func (m *Empty) Marshal() []byte { return nil }

func UnmarshalEmpty(b []byte) (*Empty, error) { return &Empty{}, nil }

// EventMsg is the wire form of one delivered event.
type EventMsg struct {
	Seq      uint64
	TsNs     uint64
	Cpu      uint32
	Kind     string
	Pid      uint32
	Tgid     uint32
	Ppid     uint32
	ExitCode int32
	Comm     string
}

// Marshal encodes m using protowire primitives, field numbers 1-9 in
// declaration order.
func (m *EventMsg) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, m.Seq)
	b = appendVarintField(b, 2, m.TsNs)
	b = appendVarintField(b, 3, uint64(m.Cpu))
	b = appendStringField(b, 4, m.Kind)
	b = appendVarintField(b, 5, uint64(m.Pid))
	b = appendVarintField(b, 6, uint64(m.Tgid))
	b = appendVarintField(b, 7, uint64(m.Ppid))
	b = appendVarintField(b, 8, uint64(uint32(m.ExitCode)))
	b = appendStringField(b, 9, m.Comm)
	return b
}

// UnmarshalEventMsg decodes an EventMsg, skipping any field number it
// does not recognize (forward-compatible with a future schema).
func UnmarshalEventMsg(b []byte) (*EventMsg, error) {
	m := &EventMsg{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpc: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Seq = v
			b = b[nn:]
		case 2:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.TsNs = v
			b = b[nn:]
		case 3:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Cpu = uint32(v)
			b = b[nn:]
		case 4:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.Kind = v
			b = b[nn:]
		case 5:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Pid = uint32(v)
			b = b[nn:]
		case 6:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Tgid = uint32(v)
			b = b[nn:]
		case 7:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Ppid = uint32(v)
			b = b[nn:]
		case 8:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.ExitCode = int32(uint32(v))
			b = b[nn:]
		case 9:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.Comm = v
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return nil, fmt.Errorf("rpc: skip unknown field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return m, nil
}

// AlertMsg is the wire form of one alert (spec §6 "Alert schema").
type AlertMsg struct {
	RuleID      string
	Severity    string
	TargetKind  string
	TargetID    string
	FirstSeenNs uint64
}

// Marshal encodes m, field numbers 1-5.
func (m *AlertMsg) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.RuleID)
	b = appendStringField(b, 2, m.Severity)
	b = appendStringField(b, 3, m.TargetKind)
	b = appendStringField(b, 4, m.TargetID)
	b = appendVarintField(b, 5, m.FirstSeenNs)
	return b
}

// UnmarshalAlertMsg decodes an AlertMsg.
func UnmarshalAlertMsg(b []byte) (*AlertMsg, error) {
	m := &AlertMsg{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpc: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.RuleID = v
			b = b[nn:]
		case 2:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.Severity = v
			b = b[nn:]
		case 3:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.TargetKind = v
			b = b[nn:]
		case 4:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.TargetID = v
			b = b[nn:]
		case 5:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.FirstSeenNs = v
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return nil, fmt.Errorf("rpc: skip unknown field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return m, nil
}

// ProcessQuery requests a single pid's snapshot (spec §6 "Snapshot
// query: by pid").
type ProcessQuery struct {
	Pid uint32
}

func (m *ProcessQuery) Marshal() []byte {
	return appendVarintField(nil, 1, uint64(m.Pid))
}

func UnmarshalProcessQuery(b []byte) (*ProcessQuery, error) {
	m := &ProcessQuery{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpc: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == 1 {
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Pid = uint32(v)
			b = b[nn:]
			continue
		}
		nn := protowire.ConsumeFieldValue(num, typ, b)
		if nn < 0 {
			return nil, fmt.Errorf("rpc: skip unknown field %d: %w", num, protowire.ParseError(nn))
		}
		b = b[nn:]
	}
	return m, nil
}

// ProcessRecord is a process-state snapshot in wire form (spec §6
// snapshot query response).
type ProcessRecord struct {
	Pid      uint32
	Tgid     uint32
	Ppid     uint32
	Comm     string
	Status   string
	ExitCode int32
}

func (m *ProcessRecord) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Pid))
	b = appendVarintField(b, 2, uint64(m.Tgid))
	b = appendVarintField(b, 3, uint64(m.Ppid))
	b = appendStringField(b, 4, m.Comm)
	b = appendStringField(b, 5, m.Status)
	b = appendVarintField(b, 6, uint64(uint32(m.ExitCode)))
	return b
}

func UnmarshalProcessRecord(b []byte) (*ProcessRecord, error) {
	m := &ProcessRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("rpc: consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Pid = uint32(v)
			b = b[nn:]
		case 2:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Tgid = uint32(v)
			b = b[nn:]
		case 3:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.Ppid = uint32(v)
			b = b[nn:]
		case 4:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.Comm = v
			b = b[nn:]
		case 5:
			v, nn, err := consumeString(b)
			if err != nil {
				return nil, err
			}
			m.Status = v
			b = b[nn:]
		case 6:
			v, nn, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.ExitCode = int32(uint32(v))
			b = b[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, b)
			if nn < 0 {
				return nil, fmt.Errorf("rpc: skip unknown field %d: %w", num, protowire.ParseError(nn))
			}
			b = b[nn:]
		}
	}
	return m, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("rpc: consume varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, fmt.Errorf("rpc: consume string: %w", protowire.ParseError(n))
	}
	return v, n, nil
}
