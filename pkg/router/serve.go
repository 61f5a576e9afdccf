package router

import (
    "context"
    "errors"
    "fmt"
    "io"
    "sync"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/transport"
)

// Serve accepts the streams sess carries until it closes or ctx ends.
func (r *Router) Serve(ctx context.Context, sess transport.Session) error {
    for {
        st, err := sess.AcceptStream(ctx)
        if err != nil {
            if ctx.Err() != nil { return ctx.Err() }
            return err
        }
        go r.handleStream(ctx, sess, st)
    }
}

// Announce opens the Control stream of sess, naming this node to the far
// side. The stream stays open for the life of the session.
func (r *Router) Announce(ctx context.Context, sess transport.Session) error {
    hdr := protocol.StreamHeader{Purpose: protocol.PurposeControl, Source: r.local, Dest: sess.Peer().ID}
    id, err := protocol.NewStreamID()
    if err != nil { return err }
    hdr.Stream = id
    b, err := protocol.EncodeHeader(r.reg, r.format, hdr)
    if err != nil { return err }
    st, err := sess.OpenStream(ctx)
    if err != nil { return fmt.Errorf("open control stream: %w", err) }
    if err := st.SendBytes(b); err != nil {
        _ = st.Close()
        return fmt.Errorf("send control header: %w", err)
    }
    go discardUntilClosed(st)
    return nil
}

func discardUntilClosed(st transport.Stream) {
    for {
        if _, err := st.RecvBytes(); err != nil { break }
    }
    _ = st.Close()
}

func (r *Router) handleStream(ctx context.Context, sess transport.Session, st transport.Stream) {
    b, err := st.RecvBytes()
    if err != nil {
        _ = st.Close()
        return
    }
    hdr, err := protocol.DecodeHeader(r.reg, b)
    if err != nil {
        r.log.Warn("dropping stream with bad header", zap.String("peer", string(sess.Peer().ID)), zap.Error(err))
        _ = st.Close()
        return
    }
    log := r.log.With(zap.Stringer("purpose", hdr.Purpose), zap.String("source", string(hdr.Source)), zap.Stringer("stream", hdr.Stream))

    if hdr.Purpose == protocol.PurposeControl {
        r.control(sess, hdr)
        discardUntilClosed(st)
        return
    }
    if hdr.Dest != r.local {
        r.relay(ctx, hdr, st, log)
        return
    }

    p := stream.New(st, stream.Info{ID: hdr.Stream, Peer: hdr.Source, Endpoint: stream.Server}, r.sopts)
    hctx, cancel := context.WithTimeout(ctx, r.openTTL)
    f, err := p.R.Next(hctx)
    cancel()
    if err == nil && f.Kind != protocol.FrameHello { err = fmt.Errorf("%w: first frame %s", ErrUnexpectedStream, f) }
    if err != nil {
        log.Warn("stream did not open cleanly", zap.Error(err))
        _ = p.W.Close()
        return
    }

    switch hdr.Purpose {
    case protocol.PurposeTransfer:
        err = r.transfers.deliver(hdr.Key, Arrival{Key: hdr.Key, Header: hdr, Stream: p})
    case protocol.PurposeDrain:
        err = r.drains.deliver(hdr.Stream, p)
    case protocol.PurposeProxy:
        r.mu.RLock()
        acc := r.acceptor
        r.mu.RUnlock()
        if acc == nil {
            err = fmt.Errorf("%w: no acceptor for proxy streams", ErrUnexpectedStream)
            break
        }
        acc(ctx, hdr, p)
        return
    default:
        err = ErrUnexpectedStream
    }
    if err != nil {
        log.Warn("stream rejected", zap.Error(err))
        _ = p.W.Close()
        return
    }
    log.Debug("stream accepted", zap.Stringer("key", hdr.Key))
}

func (r *Router) control(sess transport.Session, hdr protocol.StreamHeader) {
    cur := sess.Peer().ID
    if cur != hdr.Source {
        if !transport.IsTemp(cur) {
            r.log.Warn("peer announced a different id", zap.String("expected", string(cur)), zap.String("announced", string(hdr.Source)))
        }
        r.mgr.RebindPeer(cur, hdr.Source)
    }
    r.AddLink(r.local, hdr.Source, 0)
    r.log.Info("peer announced", zap.String("peer", string(hdr.Source)), zap.Stringer("transport", sess.TransportKind()))
}

// relay forwards a stream addressed to another node toward its next hop,
// splicing records in both directions until either side ends.
func (r *Router) relay(ctx context.Context, hdr protocol.StreamHeader, in transport.Stream, log *zap.Logger) {
    if hdr.Hops >= protocol.MaxHops {
        log.Warn("dropping stream over hop limit", zap.String("dest", string(hdr.Dest)))
        _ = in.Close()
        return
    }
    hdr.Hops++
    b, err := protocol.EncodeHeader(r.reg, r.format, hdr)
    if err == nil {
        var out transport.Stream
        if out, err = r.dialHop(ctx, hdr.Dest); err == nil {
            if err = out.SendBytes(b); err == nil {
                r.splice(ctx, in, out, log.With(zap.String("dest", string(hdr.Dest))))
                return
            }
            _ = out.Close()
        }
    }
    log.Warn("relay failed", zap.String("dest", string(hdr.Dest)), zap.Error(err))
    _ = in.Close()
}

func (r *Router) splice(ctx context.Context, a, b transport.Stream, log *zap.Logger) {
    var once sync.Once
    closeBoth := func() { once.Do(func() { _ = a.Close(); _ = b.Close() }) }
    g, gctx := errgroup.WithContext(ctx)
    stop := context.AfterFunc(gctx, closeBoth)
    defer stop()
    g.Go(func() error { defer closeBoth(); return copyRecords(b, a) })
    g.Go(func() error { defer closeBoth(); return copyRecords(a, b) })
    if err := g.Wait(); err != nil {
        log.Debug("relay ended", zap.Error(err))
        return
    }
    log.Debug("relay ended")
}

func copyRecords(dst, src transport.Stream) error {
    for {
        b, err := src.RecvBytes()
        if err != nil {
            if errors.Is(err, io.EOF) { return nil }
            return err
        }
        if err := dst.SendBytes(b); err != nil { return err }
    }
}
