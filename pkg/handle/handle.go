// Package handle adapts local capabilities to the proxy: every kind exposes
// the same read/write surface so the transfer code never inspects the kind.
package handle

import (
    "context"
    "errors"
    "fmt"
)

var (
    // ErrPeerClosed is reported once the other end is gone and every queued
    // message has been read. For drains it marks normal completion.
    ErrPeerClosed = errors.New("handle: peer closed")
    // ErrClosed is returned for operations on an end closed locally.
    ErrClosed = errors.New("handle: closed")
)

// Kind selects the adapter built for a capability.
type Kind uint8

const (
    KindUnknown Kind = iota
    // KindChannel preserves message boundaries.
    KindChannel
    // KindSocket is a byte stream; reads return whatever chunk is available.
    KindSocket
)

func (k Kind) String() string {
    switch k {
    case KindChannel:
        return "channel"
    case KindSocket:
        return "socket"
    default:
        return "unknown"
    }
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
    switch s {
    case "channel":
        return KindChannel, nil
    case "socket":
        return KindSocket, nil
    default:
        return KindUnknown, fmt.Errorf("unknown handle kind %q", s)
    }
}

// Message is one unit read from or written to a handle.
type Message []byte

// Handle is one end of a local capability. A single goroutine reads and a
// single goroutine writes at a time.
type Handle interface {
    Kind() Kind
    // Read blocks for the next message.
    Read(ctx context.Context) (Message, error)
    // TryRead returns a queued message without waiting; ok is false when
    // nothing is queued and err is nil.
    TryRead() (msg Message, ok bool, err error)
    // Ready is signalled when a message may be available. Consumers must
    // retry TryRead after each signal since signals coalesce.
    Ready() <-chan struct{}
    Write(ctx context.Context, msg Message) error
    Close() error
}

// New creates a connected pair of the given kind.
func New(kind Kind) (Handle, Handle, error) {
    switch kind {
    case KindChannel:
        a, b := NewChannelPair()
        return a, b, nil
    case KindSocket:
        return NewSocketPair()
    default:
        return nil, nil, fmt.Errorf("unknown handle kind %d", kind)
    }
}

// read implements Read on top of TryRead and Ready.
func read(ctx context.Context, h Handle) (Message, error) {
    for {
        m, ok, err := h.TryRead()
        if err != nil { return nil, err }
        if ok { return m, nil }
        select {
        case <-h.Ready():
        case <-ctx.Done():
            return nil, ctx.Err()
        }
    }
}
