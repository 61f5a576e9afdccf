package transport

import (
    "context"
    "net"
    "time"
)

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUICDirect
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUICDirect:
        return "quic:direct"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// ParseKind maps a config string onto a Kind.
func ParseKind(s string) Kind {
    switch s {
    case "quic", "quic:direct":
        return KindQUICDirect
    case "mem", "inproc":
        return KindMem
    default:
        return KindUnknown
    }
}

// NodeID is an opaque mesh-wide node identity.
type NodeID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID        NodeID
    Addr      string // transport-dependent address string
    Reachable bool
}

// Quality captures link quality metrics used by the manager to rank sessions.
type Quality struct {
    RTT           time.Duration
    LossRatio     float32
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is an ordered, reliable sequence of length-delimited records.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one record.
    SendBytes([]byte) error
    // RecvBytes blocks for the next record.
    RecvBytes() ([]byte, error)
    Close() error
}

// Session is a connection to a peer carrying independent streams.
type Session interface {
    Peer() PeerInfo
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens a new stream; the remote side receives it from AcceptStream.
    OpenStream(ctx context.Context) (Stream, error)

    // AcceptStream waits for the next stream opened by the remote side.
    AcceptStream(ctx context.Context) (Stream, error)

    Quality() Quality

    // Close closes the session and every stream on it.
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound sessions on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session to a peer/address.
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
