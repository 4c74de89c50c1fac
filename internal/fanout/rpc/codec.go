package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireMessage is implemented by every message type this codec knows
// how to marshal.
type wireMessage interface {
	Marshal() []byte
}

// codec is a grpc/encoding.Codec that dispatches to each message
// type's hand-rolled protowire Marshal/Unmarshal pair, used in place
// of the generated proto codec since this repository has no protoc
// build step.
type codec struct{}

// Name implements encoding.Codec.
func (codec) Name() string { return "sentryd-protowire" }

// Marshal implements encoding.Codec.
func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("rpc: %T does not implement wireMessage", v)
	}
	return m.Marshal(), nil
}

// Unmarshal implements encoding.Codec.
func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Empty:
		return nil
	case *EventMsg:
		decoded, err := UnmarshalEventMsg(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *AlertMsg:
		decoded, err := UnmarshalAlertMsg(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *ProcessQuery:
		decoded, err := UnmarshalProcessQuery(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *ProcessRecord:
		decoded, err := UnmarshalProcessRecord(data)
		if err != nil {
			return err
		}
		*m = *decoded
	default:
		return fmt.Errorf("rpc: unsupported message type %T", v)
	}
	return nil
}

// RegisterCodec installs this package's codec under its Name() so a
// grpc.Server/ClientConn configured with grpc.CallContentSubtype or a
// matching Content-Type negotiates it automatically.
func RegisterCodec() {
	encoding.RegisterCodec(codec{})
}
