package protocol

import (
    "crypto/rand"
    "encoding/binary"
    "fmt"
    "io"
    "strconv"
)

// TransferKey correlates a BeginTransfer frame with the stream later opened
// (or awaited) for the same transfer attempt, possibly on another node.
type TransferKey uint64

func (k TransferKey) String() string { return fmt.Sprintf("%016x", uint64(k)) }

// ParseTransferKey parses the 16 hex digit form produced by String.
func ParseTransferKey(s string) (TransferKey, error) {
    v, err := strconv.ParseUint(s, 16, 64)
    if err != nil { return 0, fmt.Errorf("transfer key %q: %w", s, err) }
    return TransferKey(v), nil
}

// NewTransferKey draws a fresh key from crypto/rand.
func NewTransferKey() (TransferKey, error) {
    v, err := random64()
    return TransferKey(v), err
}

// StreamID names a stream across the mesh. Drain streams are looked up by it
// on the receiving node.
type StreamID uint64

func (id StreamID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// NewStreamID draws a random non-zero stream id.
func NewStreamID() (StreamID, error) {
    for {
        v, err := random64()
        if err != nil { return 0, err }
        if v != 0 { return StreamID(v), nil }
    }
}

func random64() (uint64, error) {
    var b [8]byte
    if _, err := io.ReadFull(rand.Reader, b[:]); err != nil { return 0, err }
    return binary.LittleEndian.Uint64(b[:]), nil
}
