// Package proxy forwards one local handle over a mesh stream and moves it
// to another node on request, without losing or reordering messages.
package proxy

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "weak"

    "go.uber.org/zap"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/router"
)

// Proxy owns one proxied handle. The handle is taken exactly once, by
// Follow or by Initiate, after which the Proxy is spent.
type Proxy struct {
    mu    sync.Mutex
    hdl   handle.Handle
    taken bool

    router weak.Pointer[router.Router]
    log    *zap.Logger

    moves    chan moveRequest
    done     chan struct{}
    doneOnce sync.Once
}

type moveRequest struct {
    pair  handle.Handle
    drain *stream.DrainStream
    refs  StreamRefSender
    done  chan error
}

// New wraps h. The proxy does not keep rtr alive.
func New(h handle.Handle, rtr *router.Router, log *zap.Logger) *Proxy {
    if log == nil { log = zap.L() }
    return &Proxy{
        hdl:    h,
        router: weak.Make(rtr),
        log:    log.With(zap.Stringer("handle", h.Kind())),
        moves:  make(chan moveRequest),
        done:   make(chan struct{}),
    }
}

// TakeHandle extracts the handle. Only the first call succeeds.
func (p *Proxy) TakeHandle() (handle.Handle, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.taken { return nil, ErrAlreadyTransferring }
    p.taken = true
    return p.hdl, nil
}

// Router returns the router if it is still alive.
func (p *Proxy) Router() (*router.Router, error) {
    if r := p.router.Value(); r != nil { return r, nil }
    return nil, ErrRouterGone
}

func (p *Proxy) handle() (handle.Handle, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.taken { return nil, ErrAlreadyTransferring }
    return p.hdl, nil
}

// Done is closed once Run has returned.
func (p *Proxy) Done() <-chan struct{} { return p.done }

func (p *Proxy) finish() { p.doneOnce.Do(func() { close(p.done) }) }

// Move hands the proxied capability to the node at the far end of drain.
// pair is the local end the application held; from now on the transfer
// owns it. Move returns once Initiate finished, with ErrAbandoned when the
// peer started a transfer first. On ErrAbandoned drain and refs are unused
// and the caller still owns them.
func (p *Proxy) Move(ctx context.Context, pair handle.Handle, drain *stream.DrainStream, refs StreamRefSender) error {
    req := moveRequest{pair: pair, drain: drain, refs: refs, done: make(chan error, 1)}
    select {
    case p.moves <- req:
    case <-p.done:
        return ErrAbandoned
    case <-ctx.Done():
        return ctx.Err()
    }
    select {
    case err := <-req.done:
        return err
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Run proxies the handle over the stream until one side shuts down or the
// handle moves. Local messages are sent as Data; Data frames are written
// into the handle. A peer BeginTransfer is followed, a Move is initiated.
// Run closes w when it returns.
func (p *Proxy) Run(ctx context.Context, w *stream.Writer, r *stream.Reader) error {
    defer p.finish()
    defer w.Close()
    hdl, err := p.handle()
    if err != nil { return err }
    log := p.log.With(zap.Stringer("stream", w.ID()), zap.String("peer", string(w.Peer())), zap.Stringer("endpoint", w.Endpoint()))

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()

        case req := <-p.moves:
            log.Debug("move requested", zap.String("to", string(req.drain.Peer())))
            err := Initiate(ctx, p, req.pair, w, r, req.drain, req.refs)
            req.done <- err
            return err

        case in, ok := <-r.Incoming():
            if !ok { return stream.ErrStreamClosed }
            if in.Err != nil { return in.Err }
            f := in.Frame
            switch f.Kind {
            case protocol.FrameData:
                if err := hdl.Write(ctx, f.Payload); err != nil && !errors.Is(err, ErrHandleClosed) { return err }
            case protocol.FrameBeginTransfer:
                log.Debug("peer moves handle", zap.String("dest", string(f.Dest)), zap.Stringer("key", f.Key))
                // anyone still waiting in Move loses to the peer
                p.finish()
                initiation := make(chan Decision, 1)
                initiation <- DecisionAbandoned
                return Follow(ctx, p, initiation, w, r, f.Dest, f.Key)
            case protocol.FrameShutdown:
                _ = hdl.Close()
                if err := f.ShutdownErr(); err != nil { return err }
                log.Debug("peer shut down")
                return nil
            default:
                return violation("%s while proxying", f.Kind)
            }

        case <-hdl.Ready():
            for {
                m, ok, err := hdl.TryRead()
                if errors.Is(err, ErrHandleClosed) {
                    log.Debug("local end closed")
                    return w.SendShutdown(nil)
                }
                if err != nil { return err }
                if !ok { break }
                if err := w.SendData(m); err != nil { return err }
            }
        }
    }
}

// Export proxies the local handle h to dest over a new Proxy stream. The
// returned channel yields the result of Run.
func Export(ctx context.Context, rtr *router.Router, dest protocol.NodeID, h handle.Handle, log *zap.Logger) (*Proxy, <-chan error, error) {
    p, err := rtr.OpenStream(ctx, protocol.StreamHeader{Purpose: protocol.PurposeProxy, Dest: dest, HandleKind: h.Kind().String()})
    if err != nil { return nil, nil, fmt.Errorf("%w: %w", ErrRouter, err) }
    px := New(h, rtr, log)
    done := make(chan error, 1)
    go func() { done <- px.Run(ctx, p.W, p.R) }()
    return px, done, nil
}

// Accepted is an inbound proxied capability.
type Accepted struct {
    Header protocol.StreamHeader
    // App is the application's end of the capability.
    App   handle.Handle
    Proxy *Proxy
}

// Acceptor builds a router.Acceptor that proxies every inbound Proxy stream
// behind a fresh handle pair of the announced kind and passes the
// application end to deliver.
func Acceptor(rtr *router.Router, log *zap.Logger, deliver func(Accepted)) router.Acceptor {
    if log == nil { log = zap.L() }
    return func(ctx context.Context, hdr protocol.StreamHeader, p stream.Pair) {
        kind, err := handle.ParseKind(hdr.HandleKind)
        if err != nil { kind = handle.KindChannel }
        app, local, err := handle.New(kind)
        if err != nil {
            log.Warn("cannot build handle for proxy stream", zap.Error(err))
            _ = p.W.Close()
            return
        }
        px := New(local, rtr, log)
        go func() {
            if err := px.Run(ctx, p.W, p.R); err != nil {
                log.Debug("proxy ended", zap.Stringer("stream", hdr.Stream), zap.Error(err))
            }
        }()
        deliver(Accepted{Header: hdr, App: app, Proxy: px})
    }
}
