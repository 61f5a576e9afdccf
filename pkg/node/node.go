// Package node wires configuration, transports and the router into a
// running mesh node that can export, accept and hand off capabilities.
package node

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/jpillora/backoff"
    "go.uber.org/zap"

    "ttxfer/pkg/config"
    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/proxy"
    "ttxfer/pkg/router"
    "ttxfer/pkg/transport"
    "ttxfer/pkg/transport/mem"
    tquic "ttxfer/pkg/transport/quic"
)

var ErrClosed = errors.New("node: closed")

// Options carries dependencies that do not come from the config file.
type Options struct {
    Logger *zap.Logger
    // Transports replaces the transport built for a kind, e.g. a mem
    // transport shared by several nodes in one process.
    Transports map[string]transport.Transport
}

// Node is one member of the mesh.
type Node struct {
    cfg *config.Config
    log *zap.Logger
    mgr *transport.Manager
    rtr *router.Router

    transports map[string]transport.Transport
    accepted   chan proxy.Accepted

    mu        sync.Mutex
    started   bool
    listeners []transport.Listener
    cancel    context.CancelFunc
    closed    chan struct{}
    closeOnce sync.Once
    wg        sync.WaitGroup
}

// New builds a node from cfg without touching the network.
func New(cfg *config.Config, opts Options) (*Node, error) {
    if cfg == nil { cfg = config.Default() }
    log := opts.Logger
    if log == nil { log = zap.L() }
    format, err := protocol.ParseFormat(cfg.Transfer.Format)
    if err != nil { return nil, err }

    mgr := transport.NewManager()
    rtr := router.New(router.Options{
        Local:             protocol.NodeID(cfg.NodeID),
        Manager:           mgr,
        Stream:            stream.Options{Format: format, Buffer: cfg.Transfer.FrameBuffer, Logger: log},
        RendezvousTimeout: cfg.Transfer.RendezvousTimeout(),
        OpenTimeout:       cfg.Transfer.OpenTimeout(),
        Logger:            log,
    })
    for _, r := range cfg.Routes {
        rtr.SetRoute(protocol.NodeID(r.Dest), protocol.NodeID(r.Via))
    }

    n := &Node{
        cfg:        cfg,
        log:        log.With(zap.String("node", cfg.NodeID)),
        mgr:        mgr,
        rtr:        rtr,
        transports: make(map[string]transport.Transport),
        accepted:   make(chan proxy.Accepted, 16),
        closed:     make(chan struct{}),
    }
    for _, tc := range cfg.Transports {
        if _, ok := n.transports[tc.Kind]; ok { continue }
        tr := opts.Transports[tc.Kind]
        if tr == nil {
            if tr, err = newByKind(tc.Kind); err != nil { return nil, err }
        }
        n.transports[tc.Kind] = tr
    }
    rtr.SetAcceptor(proxy.Acceptor(rtr, n.log, n.deliver))
    return n, nil
}

func newByKind(kind string) (transport.Transport, error) {
    switch kind {
    case "quic":
        return tquic.New()
    case "mem":
        return mem.New(), nil
    default:
        return nil, fmt.Errorf("node: unknown transport kind %q", kind)
    }
}

func (n *Node) ID() protocol.NodeID        { return n.rtr.Local() }
func (n *Node) Router() *router.Router      { return n.rtr }
func (n *Node) Manager() *transport.Manager { return n.mgr }

// Start opens the configured listeners and starts dialing peers. It
// returns once every listener is up; sessions are served in the background
// until ctx ends or Close is called.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.started { return errors.New("node: already started") }
    select {
    case <-n.closed:
        return ErrClosed
    default:
    }
    n.started = true
    ctx, n.cancel = context.WithCancel(ctx)

    for _, tc := range n.cfg.Transports {
        tr := n.transports[tc.Kind]
        for _, addr := range tc.Listen {
            l, err := tr.Listen(ctx, addr)
            if err != nil {
                n.cancel()
                for _, l := range n.listeners { _ = l.Close() }
                n.listeners = nil
                return fmt.Errorf("listen %s %s: %w", tc.Kind, addr, err)
            }
            n.log.Info("listening", zap.Stringer("kind", tr.Kind()), zap.String("addr", l.Addr().String()))
            n.listeners = append(n.listeners, l)
            n.wg.Add(1)
            go func() { defer n.wg.Done(); n.acceptLoop(ctx, l) }()
        }
    }
    for _, tc := range n.cfg.Transports {
        tr := n.transports[tc.Kind]
        for _, d := range tc.Dial {
            n.wg.Add(1)
            go func() { defer n.wg.Done(); n.dialLoop(ctx, tr, d) }()
        }
    }
    return nil
}

func (n *Node) acceptLoop(ctx context.Context, l transport.Listener) {
    for {
        sess, err := l.Accept(ctx)
        if err != nil {
            if ctx.Err() == nil { n.log.Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err)) }
            return
        }
        n.log.Info("inbound session", zap.Stringer("kind", sess.TransportKind()), zap.String("raddr", sess.RemoteAddr().String()))
        n.wg.Add(1)
        go func() { defer n.wg.Done(); n.attach(ctx, sess) }()
    }
}

// dialLoop keeps one session to the configured peer, redialing with
// backoff whenever it fails or ends.
func (n *Node) dialLoop(ctx context.Context, tr transport.Transport, d config.PeerDialConfig) {
    b := &backoff.Backoff{Min: n.cfg.Net.BackoffMin(), Max: n.cfg.Net.BackoffMax(), Factor: 2, Jitter: n.cfg.Net.Jittered()}
    peer := transport.PeerInfo{ID: transport.NodeID(d.PeerID), Addr: d.Address}
    if peer.ID == "" { peer.ID = transport.NodeID("temp:" + tr.Kind().String() + ":" + d.Address) }
    log := n.log.With(zap.Stringer("kind", tr.Kind()), zap.String("addr", d.Address))

    for ctx.Err() == nil {
        sess, err := tr.Dial(ctx, d.Address, peer)
        if err != nil {
            wait := b.Duration()
            log.Warn("dial failed", zap.Duration("retry_in", wait), zap.Error(err))
            if !sleep(ctx, wait) { return }
            continue
        }
        done := n.attach(ctx, sess)
        if done == nil {
            if !sleep(ctx, b.Duration()) { return }
            continue
        }
        b.Reset()
        log.Info("dialed", zap.String("peer", string(sess.Peer().ID)))
        select {
        case <-done:
            log.Info("session ended, redialing")
        case <-ctx.Done():
            return
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-t.C:
        return true
    case <-ctx.Done():
        return false
    }
}

// attach registers sess, serves it and announces this node over it. The
// returned channel closes once the session is gone; it is nil when the
// manager kept a better session for the same peer.
func (n *Node) attach(ctx context.Context, sess transport.Session) <-chan struct{} {
    if !n.mgr.AddSession(sess) { return nil }
    if id := sess.Peer().ID; !transport.IsTemp(id) { n.rtr.AddLink(n.ID(), id, 0) }
    done := make(chan struct{})
    go func() {
        defer close(done)
        err := n.rtr.Serve(ctx, sess)
        id := sess.Peer().ID
        n.mgr.RemoveSession(sess)
        if n.mgr.GetSession(id) == nil { n.rtr.RemoveLink(n.ID(), id) }
        n.log.Debug("session closed", zap.String("peer", string(id)), zap.Error(err))
    }()
    if err := n.rtr.Announce(ctx, sess); err != nil {
        n.log.Warn("announce failed", zap.String("peer", string(sess.Peer().ID)), zap.Error(err))
        _ = sess.Close()
    }
    return done
}

func (n *Node) deliver(acc proxy.Accepted) {
    select {
    case n.accepted <- acc:
    case <-n.closed:
        _ = acc.App.Close()
    }
}

// Accept returns the next capability a peer exported to this node.
func (n *Node) Accept(ctx context.Context) (proxy.Accepted, error) {
    select {
    case acc := <-n.accepted:
        return acc, nil
    case <-n.closed:
        return proxy.Accepted{}, ErrClosed
    case <-ctx.Done():
        return proxy.Accepted{}, ctx.Err()
    }
}

// Export proxies h to dest. The channel yields the proxy's final result.
func (n *Node) Export(ctx context.Context, dest protocol.NodeID, h handle.Handle) (*proxy.Proxy, <-chan error, error) {
    return proxy.Export(ctx, n.rtr, dest, h, n.log)
}

// Handoff moves the capability served by px, whose application end is app,
// to dest. It returns the stream ref dest needs to Land it, once known, and
// a channel with the result of the move.
func (n *Node) Handoff(ctx context.Context, px *proxy.Proxy, app handle.Handle, dest protocol.NodeID) (proxy.StreamRef, <-chan error, error) {
    drain, err := n.rtr.OpenDrain(ctx, dest)
    if err != nil { return proxy.StreamRef{}, nil, fmt.Errorf("%w: %w", proxy.ErrRouter, err) }
    refs := proxy.NewRefSlot()
    moved := make(chan error, 1)
    go func() {
        err := px.Move(ctx, app, drain, refs)
        if errors.Is(err, proxy.ErrAbandoned) { _ = drain.Close() }
        moved <- err
    }()
    select {
    case ref := <-refs.C():
        return ref, moved, nil
    case err := <-moved:
        select {
        case ref := <-refs.C():
            done := make(chan error, 1)
            done <- err
            return ref, done, nil
        default:
        }
        if err == nil { err = errors.New("node: move ended without a stream ref") }
        return proxy.StreamRef{}, nil, err
    case <-ctx.Done():
        return proxy.StreamRef{}, nil, ctx.Err()
    }
}

// Land resumes a capability handed off to this node.
func (n *Node) Land(ctx context.Context, ref proxy.StreamRef) (handle.Handle, <-chan error, error) {
    return proxy.Land(ctx, n.rtr, ref, n.log)
}

// Close stops listeners and dial loops and drops every session.
func (n *Node) Close() error {
    n.closeOnce.Do(func() {
        close(n.closed)
        n.mu.Lock()
        if n.cancel != nil { n.cancel() }
        for _, l := range n.listeners { _ = l.Close() }
        n.listeners = nil
        n.mu.Unlock()
        n.mgr.CloseAll()
    })
    n.wg.Wait()
    return nil
}
