package protocol

import (
    "errors"
    "fmt"

    "google.golang.org/protobuf/encoding/protowire"

    "ttxfer/pkg/protocol/codec"
)

var (
    ErrMalformedFrame = errors.New("protocol: malformed frame")
    // ErrPeerShutdown wraps the error status carried by a Shutdown frame.
    ErrPeerShutdown = errors.New("protocol: peer shut down with error")
)

// Frame is one protocol unit on a stream. Only the fields belonging to Kind
// are meaningful:
//
//	Data           Payload
//	BeginTransfer  Dest, Key
//	Shutdown       Status ("" means Ok)
type Frame struct {
    Kind    FrameKind
    Payload []byte
    Dest    NodeID
    Key     TransferKey
    Status  string
}

func HelloFrame() Frame       { return Frame{Kind: FrameHello} }
func DataFrame(p []byte) Frame { return Frame{Kind: FrameData, Payload: p} }
func AckTransferFrame() Frame { return Frame{Kind: FrameAckTransfer} }
func EndTransferFrame() Frame { return Frame{Kind: FrameEndTransfer} }

func BeginTransferFrame(dest NodeID, key TransferKey) Frame {
    return Frame{Kind: FrameBeginTransfer, Dest: dest, Key: key}
}

// ShutdownFrame carries err as the terminal result; nil means Ok.
func ShutdownFrame(err error) Frame {
    f := Frame{Kind: FrameShutdown}
    if err != nil {
        f.Status = err.Error()
        if f.Status == "" { f.Status = "error" }
    }
    return f
}

// ShutdownErr returns the result carried by a Shutdown frame.
func (f Frame) ShutdownErr() error {
    if f.Status == "" { return nil }
    return fmt.Errorf("%w: %s", ErrPeerShutdown, f.Status)
}

func (f Frame) String() string {
    switch f.Kind {
    case FrameData:
        return fmt.Sprintf("Data(%d bytes)", len(f.Payload))
    case FrameBeginTransfer:
        return fmt.Sprintf("BeginTransfer(%s, %s)", f.Dest, f.Key)
    case FrameShutdown:
        if f.Status == "" { return "Shutdown(ok)" }
        return fmt.Sprintf("Shutdown(%q)", f.Status)
    default:
        return f.Kind.String()
    }
}

// Validate checks that the kind is known and the fields fit the kind.
func (f Frame) Validate() error {
    switch f.Kind {
    case FrameHello, FrameAckTransfer, FrameEndTransfer:
        if len(f.Payload) != 0 || f.Dest != "" || f.Key != 0 || f.Status != "" {
            return fmt.Errorf("%w: %s carries fields", ErrMalformedFrame, f.Kind)
        }
    case FrameData:
        if f.Dest != "" || f.Key != 0 || f.Status != "" {
            return fmt.Errorf("%w: Data carries transfer fields", ErrMalformedFrame)
        }
    case FrameBeginTransfer:
        if f.Dest == "" { return fmt.Errorf("%w: BeginTransfer without destination", ErrMalformedFrame) }
        if len(f.Payload) != 0 || f.Status != "" {
            return fmt.Errorf("%w: BeginTransfer carries payload", ErrMalformedFrame)
        }
    case FrameShutdown:
        if len(f.Payload) != 0 || f.Dest != "" || f.Key != 0 {
            return fmt.Errorf("%w: Shutdown carries fields", ErrMalformedFrame)
        }
    default:
        return fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, uint8(f.Kind))
    }
    return nil
}

// EncodeFrame validates f and encodes it as Format || body.
func EncodeFrame(r *codec.Registry, format Format, f Frame) ([]byte, error) {
    if err := f.Validate(); err != nil { return nil, err }
    w := toWire(f)
    return EncodeBody(r, format, &w)
}

// DecodeFrame decodes a record produced by EncodeFrame.
func DecodeFrame(r *codec.Registry, b []byte) (Frame, error) {
    var w wireFrame
    if _, err := DecodeBody(r, b, &w); err != nil {
        return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
    }
    f := w.frame()
    if err := f.Validate(); err != nil { return Frame{}, err }
    return f, nil
}

// wireFrame is the encoded shape of a Frame: a CBOR array, a compact JSON
// object, or protobuf fields 1..5.
type wireFrame struct {
    _       struct{} `cbor:",toarray"`
    Kind    uint8    `json:"k"`
    Payload []byte   `json:"p,omitempty"`
    Dest    string   `json:"d,omitempty"`
    Key     uint64   `json:"x,omitempty"`
    Status  string   `json:"s,omitempty"`
}

func toWire(f Frame) wireFrame {
    return wireFrame{Kind: uint8(f.Kind), Payload: f.Payload, Dest: string(f.Dest), Key: uint64(f.Key), Status: f.Status}
}

func (w *wireFrame) frame() Frame {
    f := Frame{Kind: FrameKind(w.Kind), Dest: NodeID(w.Dest), Key: TransferKey(w.Key), Status: w.Status}
    if len(w.Payload) > 0 { f.Payload = w.Payload }
    return f
}

const (
    fieldKind    protowire.Number = 1
    fieldPayload protowire.Number = 2
    fieldDest    protowire.Number = 3
    fieldKey     protowire.Number = 4
    fieldStatus  protowire.Number = 5
)

func (w *wireFrame) AppendWire(b []byte) ([]byte, error) {
    b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
    b = protowire.AppendVarint(b, uint64(w.Kind))
    if len(w.Payload) > 0 {
        b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
        b = protowire.AppendBytes(b, w.Payload)
    }
    if w.Dest != "" {
        b = protowire.AppendTag(b, fieldDest, protowire.BytesType)
        b = protowire.AppendString(b, w.Dest)
    }
    if w.Key != 0 {
        b = protowire.AppendTag(b, fieldKey, protowire.Fixed64Type)
        b = protowire.AppendFixed64(b, w.Key)
    }
    if w.Status != "" {
        b = protowire.AppendTag(b, fieldStatus, protowire.BytesType)
        b = protowire.AppendString(b, w.Status)
    }
    return b, nil
}

func (w *wireFrame) ConsumeWire(b []byte) error {
    for len(b) > 0 {
        num, typ, n := protowire.ConsumeTag(b)
        if n < 0 { return protowire.ParseError(n) }
        b = b[n:]
        switch {
        case num == fieldKind && typ == protowire.VarintType:
            v, n := protowire.ConsumeVarint(b)
            if n < 0 { return protowire.ParseError(n) }
            if v > 0xff { return fmt.Errorf("frame kind %d out of range", v) }
            w.Kind = uint8(v)
            b = b[n:]
        case num == fieldPayload && typ == protowire.BytesType:
            v, n := protowire.ConsumeBytes(b)
            if n < 0 { return protowire.ParseError(n) }
            w.Payload = append([]byte(nil), v...)
            b = b[n:]
        case num == fieldDest && typ == protowire.BytesType:
            v, n := protowire.ConsumeString(b)
            if n < 0 { return protowire.ParseError(n) }
            w.Dest = v
            b = b[n:]
        case num == fieldKey && typ == protowire.Fixed64Type:
            v, n := protowire.ConsumeFixed64(b)
            if n < 0 { return protowire.ParseError(n) }
            w.Key = v
            b = b[n:]
        case num == fieldStatus && typ == protowire.BytesType:
            v, n := protowire.ConsumeString(b)
            if n < 0 { return protowire.ParseError(n) }
            w.Status = v
            b = b[n:]
        default:
            n := protowire.ConsumeFieldValue(num, typ, b)
            if n < 0 { return protowire.ParseError(n) }
            b = b[n:]
        }
    }
    return nil
}
