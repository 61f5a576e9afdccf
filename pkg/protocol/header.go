package protocol

import (
    "errors"
    "fmt"

    "ttxfer/pkg/protocol/codec"
)

// HeaderVersion is the current stream preamble version.
const HeaderVersion = 1

// MaxHops bounds how many relays may forward one stream.
const MaxHops = 16

var ErrBadHeader = errors.New("protocol: bad stream header")

// Purpose says why a stream was opened.
type Purpose uint8

const (
    PurposeUnknown Purpose = iota
    // PurposeProxy carries the traffic of one proxied handle.
    PurposeProxy
    // PurposeDrain flushes residual Data toward the node a handle moved to.
    PurposeDrain
    // PurposeTransfer reconnects a moved handle; it carries a TransferKey.
    PurposeTransfer
    // PurposeControl is opened once per session so the far side learns who we are.
    PurposeControl
)

func (p Purpose) String() string {
    switch p {
    case PurposeProxy:
        return "proxy"
    case PurposeDrain:
        return "drain"
    case PurposeTransfer:
        return "transfer"
    case PurposeControl:
        return "control"
    default:
        return "unknown"
    }
}

// StreamHeader is the first record on every mesh stream, written by the
// opening side before any Frame. Relays forward it with Hops incremented.
type StreamHeader struct {
    Version uint8       `cbor:"1,keyasint" json:"v"`
    Purpose Purpose     `cbor:"2,keyasint" json:"p"`
    Source  NodeID      `cbor:"3,keyasint" json:"src"`
    Dest    NodeID      `cbor:"4,keyasint" json:"dst"`
    Stream  StreamID    `cbor:"5,keyasint" json:"id"`
    Key     TransferKey `cbor:"6,keyasint,omitempty" json:"key,omitempty"`
    // HandleKind names the adapter the receiving side should build.
    HandleKind string `cbor:"7,keyasint,omitempty" json:"kind,omitempty"`
    Hops       uint8  `cbor:"8,keyasint,omitempty" json:"hops,omitempty"`
}

func (h StreamHeader) Validate() error {
    if h.Version != HeaderVersion { return fmt.Errorf("%w: version %d", ErrBadHeader, h.Version) }
    if h.Source == "" || h.Dest == "" { return fmt.Errorf("%w: missing node ids", ErrBadHeader) }
    if h.Stream == 0 { return fmt.Errorf("%w: zero stream id", ErrBadHeader) }
    switch h.Purpose {
    case PurposeProxy, PurposeDrain, PurposeTransfer, PurposeControl:
    default:
        return fmt.Errorf("%w: purpose %d", ErrBadHeader, h.Purpose)
    }
    if h.Hops > MaxHops { return fmt.Errorf("%w: %d hops", ErrBadHeader, h.Hops) }
    return nil
}

// EncodeHeader encodes h with the format byte prefix. Headers use JSON or
// CBOR; protobuf frames still announce themselves with a CBOR header.
func EncodeHeader(r *codec.Registry, format Format, h StreamHeader) ([]byte, error) {
    if h.Version == 0 { h.Version = HeaderVersion }
    if err := h.Validate(); err != nil { return nil, err }
    if format == FormatProto { format = FormatCBOR }
    return EncodeBody(r, format, h)
}

// DecodeHeader decodes and validates a record produced by EncodeHeader.
func DecodeHeader(r *codec.Registry, b []byte) (StreamHeader, error) {
    var h StreamHeader
    if _, err := DecodeBody(r, b, &h); err != nil {
        return StreamHeader{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
    }
    if err := h.Validate(); err != nil { return StreamHeader{}, err }
    return h, nil
}
