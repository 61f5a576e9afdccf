// Package protocol defines the frames exchanged on mesh streams, the
// preamble that opens every stream, and their body encodings.
package protocol

import (
    "fmt"

    "ttxfer/pkg/transport"
)

// NodeID is the mesh-wide node identity.
type NodeID = transport.NodeID

// FrameKind tags a Frame. Values are stable on the wire.
type FrameKind uint8

const (
    FrameUnknown FrameKind = iota
    FrameHello
    FrameData
    FrameBeginTransfer
    FrameAckTransfer
    FrameEndTransfer
    FrameShutdown
)

func (k FrameKind) String() string {
    switch k {
    case FrameHello:
        return "Hello"
    case FrameData:
        return "Data"
    case FrameBeginTransfer:
        return "BeginTransfer"
    case FrameAckTransfer:
        return "AckTransfer"
    case FrameEndTransfer:
        return "EndTransfer"
    case FrameShutdown:
        return "Shutdown"
    default:
        return fmt.Sprintf("FrameKind(%d)", uint8(k))
    }
}

// ContentType is optional hint for payload decoding.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)
