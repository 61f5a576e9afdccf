package proxy

import (
    "context"
    "fmt"
    "sync/atomic"

    "ttxfer/pkg/protocol"
)

// StreamRefSender tells the mover how a transfer concluded. Exactly one of
// the two methods is called per transfer attempt.
type StreamRefSender interface {
    // DrainingInitiate: after the drain stream ends, open a transfer to dest
    // under key.
    DrainingInitiate(drainID protocol.StreamID, dest protocol.NodeID, key protocol.TransferKey) error
    // DrainingAwait: after the drain stream ends, wait for the transfer
    // stream keyed by key.
    DrainingAwait(drainID protocol.StreamID, key protocol.TransferKey) error
}

type RefKind uint8

const (
    RefUnknown RefKind = iota
    RefInitiate
    RefAwait
)

func (k RefKind) String() string {
    switch k {
    case RefInitiate:
        return "initiate"
    case RefAwait:
        return "await"
    default:
        return "unknown"
    }
}

// StreamRef is the conclusion handed to the mover. Dest is only set for
// RefInitiate.
type StreamRef struct {
    Kind    RefKind
    DrainID protocol.StreamID
    Dest    protocol.NodeID
    Key     protocol.TransferKey
}

func (r StreamRef) String() string {
    if r.Kind == RefInitiate {
        return fmt.Sprintf("initiate(drain=%s, dest=%s, key=%s)", r.DrainID, r.Dest, r.Key)
    }
    return fmt.Sprintf("%s(drain=%s, key=%s)", r.Kind, r.DrainID, r.Key)
}

// RefSlot is a single-use StreamRefSender backed by a channel.
type RefSlot struct {
    sent atomic.Bool
    ch   chan StreamRef
}

func NewRefSlot() *RefSlot { return &RefSlot{ch: make(chan StreamRef, 1)} }

func (s *RefSlot) DrainingInitiate(drainID protocol.StreamID, dest protocol.NodeID, key protocol.TransferKey) error {
    return s.send(StreamRef{Kind: RefInitiate, DrainID: drainID, Dest: dest, Key: key})
}

func (s *RefSlot) DrainingAwait(drainID protocol.StreamID, key protocol.TransferKey) error {
    return s.send(StreamRef{Kind: RefAwait, DrainID: drainID, Key: key})
}

func (s *RefSlot) send(ref StreamRef) error {
    if s.sent.Swap(true) { return fmt.Errorf("%w: %s", ErrRefSent, ref) }
    s.ch <- ref
    return nil
}

// C yields the reference once it was sent.
func (s *RefSlot) C() <-chan StreamRef { return s.ch }

func (s *RefSlot) Wait(ctx context.Context) (StreamRef, error) {
    select {
    case ref := <-s.ch:
        return ref, nil
    case <-ctx.Done():
        return StreamRef{}, ctx.Err()
    }
}

// Decision is the fate of a local move request racing an incoming transfer.
type Decision uint8

const (
    DecisionUnknown Decision = iota
    DecisionAbandoned
    DecisionStarted
)

func (d Decision) String() string {
    switch d {
    case DecisionAbandoned:
        return "abandoned"
    case DecisionStarted:
        return "started"
    default:
        return "unknown"
    }
}
