// Package router resolves transfer destinations to local rendezvous or to
// freshly opened mesh streams, and serves the streams peers open toward us.
package router

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "go.uber.org/zap"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/codec"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/transport"
)

var (
    ErrNoRoute          = errors.New("router: no route")
    ErrDuplicateKey     = errors.New("router: key already pending")
    ErrUnexpectedStream = errors.New("router: unexpected stream")
)

// Opened is the result of OpenTransfer: Fused or Remote.
type Opened interface{ isOpened() }

// Fused means the destination is this node; the handle now waits in the
// local rendezvous table and no stream was opened.
type Fused struct{}

// Remote is a new Transfer stream toward the destination. Handle is the
// same handle passed to OpenTransfer, to be proxied over Stream.
type Remote struct {
    Stream stream.Pair
    Handle handle.Handle
}

func (Fused) isOpened()  {}
func (Remote) isOpened() {}

// Arrival is what AwaitTransfer hands to the waiting side. Exactly one of
// Handle (fused) or Stream (remote) is set.
type Arrival struct {
    Key    protocol.TransferKey
    Header protocol.StreamHeader
    Handle handle.Handle
    Stream stream.Pair
}

// Fused reports whether the transfer never left this node.
func (a Arrival) Fused() bool { return a.Handle != nil }

// Acceptor takes ownership of an inbound Proxy stream.
type Acceptor func(ctx context.Context, hdr protocol.StreamHeader, p stream.Pair)

type Options struct {
    Local   protocol.NodeID
    Manager *transport.Manager
    Stream  stream.Options
    // RendezvousTimeout bounds how long an unclaimed arrival is kept.
    RendezvousTimeout time.Duration
    // OpenTimeout bounds the wait for Hello on an inbound stream.
    OpenTimeout time.Duration
    Logger      *zap.Logger
}

type Router struct {
    local   protocol.NodeID
    mgr     *transport.Manager
    sopts   stream.Options
    reg     *codec.Registry
    format  protocol.Format
    openTTL time.Duration
    log     *zap.Logger

    mu       sync.RWMutex
    links    map[protocol.NodeID]map[protocol.NodeID]float64
    routes   map[protocol.NodeID]protocol.NodeID
    acceptor Acceptor

    transfers *rendezvous[protocol.TransferKey, Arrival]
    drains    *rendezvous[protocol.StreamID, stream.Pair]
}

func New(opts Options) *Router {
    if opts.Manager == nil { opts.Manager = transport.NewManager() }
    if opts.Logger == nil { opts.Logger = zap.L() }
    if opts.Stream.Registry == nil { opts.Stream.Registry = codec.NewRegistry() }
    if opts.Stream.Format == protocol.FormatUnknown { opts.Stream.Format = protocol.FormatCBOR }
    if opts.Stream.Logger == nil { opts.Stream.Logger = opts.Logger }
    if opts.RendezvousTimeout <= 0 { opts.RendezvousTimeout = 30 * time.Second }
    if opts.OpenTimeout <= 0 { opts.OpenTimeout = 10 * time.Second }
    log := opts.Logger.With(zap.String("node", string(opts.Local)))
    r := &Router{
        local:   opts.Local,
        mgr:     opts.Manager,
        sopts:   opts.Stream,
        reg:     opts.Stream.Registry,
        format:  opts.Stream.Format,
        openTTL: opts.OpenTimeout,
        log:     log,
        links:   make(map[protocol.NodeID]map[protocol.NodeID]float64),
        routes:  make(map[protocol.NodeID]protocol.NodeID),
    }
    r.transfers = newRendezvous(opts.RendezvousTimeout, func(k protocol.TransferKey, a Arrival) {
        log.Warn("transfer never claimed", zap.Stringer("key", k), zap.Bool("fused", a.Fused()))
        if a.Handle != nil { _ = a.Handle.Close() }
        if a.Stream.W != nil { _ = a.Stream.W.Close() }
    })
    r.drains = newRendezvous(opts.RendezvousTimeout, func(id protocol.StreamID, p stream.Pair) {
        log.Warn("drain stream never claimed", zap.Stringer("stream", id))
        _ = p.W.Close()
    })
    return r
}

func (r *Router) Local() protocol.NodeID      { return r.local }
func (r *Router) Manager() *transport.Manager { return r.mgr }

// SetAcceptor installs the owner of inbound Proxy streams. Without one
// they are closed on arrival.
func (r *Router) SetAcceptor(a Acceptor) {
    r.mu.Lock(); r.acceptor = a; r.mu.Unlock()
}

// OpenTransfer moves h toward dest under key. When dest is this node the
// handle is parked for AwaitTransfer and Fused is returned.
func (r *Router) OpenTransfer(ctx context.Context, dest protocol.NodeID, key protocol.TransferKey, h handle.Handle) (Opened, error) {
    if dest == r.local {
        if err := r.transfers.deliver(key, Arrival{Key: key, Handle: h}); err != nil {
            return nil, fmt.Errorf("fuse %s: %w", key, err)
        }
        r.log.Debug("transfer fused", zap.Stringer("key", key))
        return Fused{}, nil
    }
    p, err := r.OpenStream(ctx, protocol.StreamHeader{
        Purpose:    protocol.PurposeTransfer,
        Dest:       dest,
        Key:        key,
        HandleKind: h.Kind().String(),
    })
    if err != nil { return nil, err }
    return Remote{Stream: p, Handle: h}, nil
}

// AwaitTransfer waits until the transfer keyed by key reaches this node.
func (r *Router) AwaitTransfer(ctx context.Context, key protocol.TransferKey) (Arrival, error) {
    return r.transfers.await(ctx, key)
}

// OpenDrain opens a Drain stream toward peer.
func (r *Router) OpenDrain(ctx context.Context, peer protocol.NodeID) (*stream.DrainStream, error) {
    p, err := r.OpenStream(ctx, protocol.StreamHeader{Purpose: protocol.PurposeDrain, Dest: peer})
    if err != nil { return nil, err }
    // nothing is ever read from a drain stream by its owner
    p.R.Stop()
    return stream.NewDrainStream(p.W), nil
}

// AwaitDrain waits for the inbound Drain stream with the given id.
func (r *Router) AwaitDrain(ctx context.Context, id protocol.StreamID) (stream.Pair, error) {
    return r.drains.await(ctx, id)
}

// OpenStream opens a stream to hdr.Dest through the next hop. It fills in
// Source and, when zero, a fresh stream id; the new stream has already
// carried its header and Hello when returned.
func (r *Router) OpenStream(ctx context.Context, hdr protocol.StreamHeader) (stream.Pair, error) {
    hdr.Source = r.local
    if hdr.Stream == 0 {
        id, err := protocol.NewStreamID()
        if err != nil { return stream.Pair{}, err }
        hdr.Stream = id
    }
    b, err := protocol.EncodeHeader(r.reg, r.format, hdr)
    if err != nil { return stream.Pair{}, err }
    st, err := r.dialHop(ctx, hdr.Dest)
    if err != nil { return stream.Pair{}, err }
    if err := st.SendBytes(b); err != nil {
        _ = st.Close()
        return stream.Pair{}, fmt.Errorf("send header: %w", err)
    }
    p := stream.New(st, stream.Info{ID: hdr.Stream, Peer: hdr.Dest, Endpoint: stream.Client}, r.sopts)
    if err := p.W.SendHello(); err != nil {
        _ = p.W.Close()
        return stream.Pair{}, err
    }
    r.log.Debug("stream opened", zap.Stringer("purpose", hdr.Purpose), zap.String("dest", string(hdr.Dest)), zap.Stringer("stream", hdr.Stream))
    return p, nil
}

func (r *Router) dialHop(ctx context.Context, dest protocol.NodeID) (transport.Stream, error) {
    nh, ok := r.NextHop(dest)
    if !ok { return nil, fmt.Errorf("%w to %s", ErrNoRoute, dest) }
    sess := r.mgr.GetSession(nh)
    if sess == nil { return nil, fmt.Errorf("%w to %s: no session with %s", ErrNoRoute, dest, nh) }
    st, err := sess.OpenStream(ctx)
    if err != nil { return nil, fmt.Errorf("open stream via %s: %w", nh, err) }
    return st, nil
}
