package codec

import (
    "fmt"

    "google.golang.org/protobuf/proto"
)

// WireMessage is implemented by hand-written types that encode themselves in
// protobuf wire format (see google.golang.org/protobuf/encoding/protowire)
// without generated code.
type WireMessage interface {
    AppendWire(b []byte) ([]byte, error)
    ConsumeWire(b []byte) error
}

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling. It
// accepts generated proto.Message values and WireMessage implementations.
func Proto() Codec {
    return protoCodec{
        mo: proto.MarshalOptions{Deterministic: true},
        uo: proto.UnmarshalOptions{DiscardUnknown: true},
    }
}

func (p protoCodec) ContentType() string { return ContentProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    switch msg := v.(type) {
    case proto.Message:
        return p.mo.Marshal(msg)
    case WireMessage:
        return msg.AppendWire(nil)
    default:
        return nil, fmt.Errorf("protobuf: value is not a proto or wire message: %T", v)
    }
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    switch msg := v.(type) {
    case proto.Message:
        return p.uo.Unmarshal(data, msg)
    case WireMessage:
        return msg.ConsumeWire(data)
    default:
        return fmt.Errorf("protobuf: target is not a proto or wire message: %T", v)
    }
}
