package proxy

import (
    "context"
    "errors"
    "fmt"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
)

// Initiate moves the capability proxied by p to the node at the far end of
// drain. pair is the sibling end of p's handle: whatever the peer still
// sends lands there and is forwarded on drain. The peer is asked to
// reconnect at drain.Peer() using a fresh key, and refs learns how the
// mover continues.
//
// Two flows run jointly and the first failure aborts both. On failure no
// further frame is sent on either stream. The caller keeps ownership of w,
// r and drain.
func Initiate(ctx context.Context, p *Proxy, pair handle.Handle, w *stream.Writer, r *stream.Reader, drain *stream.DrainStream, refs StreamRefSender) error {
    key, err := protocol.NewTransferKey()
    if err != nil { return fmt.Errorf("transfer key: %w", err) }
    t := &transfer{
        w:         w,
        r:         r,
        refs:      refs,
        key:       key,
        drainID:   drain.ID(),
        drainPeer: drain.Peer(),
        log: p.log.With(
            zap.Stringer("stream", w.ID()),
            zap.Stringer("endpoint", w.Endpoint()),
            zap.Stringer("key", key),
            zap.Stringer("drain", drain.ID()),
            zap.String("to", string(drain.Peer())),
        ),
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return drainToPeer(gctx, pair, drain) })
    g.Go(func() error {
        hdl, err := p.TakeHandle()
        if err != nil { return err }
        t.hdl = hdl
        if err := t.negotiate(gctx); err != nil { return err }
        // lets the drain flow see the end of pair
        return hdl.Close()
    })
    err = g.Wait()
    if t.hdl != nil { _ = t.hdl.Close() }
    if err != nil {
        t.log.Warn("transfer failed", zap.Error(err))
        return err
    }
    t.log.Debug("transfer handed off")
    return nil
}

// drainToPeer forwards everything left on pair as Data, then ends the drain.
func drainToPeer(ctx context.Context, pair handle.Handle, drain *stream.DrainStream) error {
    for {
        m, err := pair.Read(ctx)
        if errors.Is(err, ErrHandleClosed) { break }
        if err != nil { return err }
        // a failed negotiation cancels ctx; nothing may follow it
        if err := ctx.Err(); err != nil { return err }
        if err := drain.SendData(m); err != nil { return err }
    }
    _ = pair.Close()
    if err := ctx.Err(); err != nil { return err }
    if err := drain.EndTransfer(); err != nil { return err }
    return drain.Close()
}

type transfer struct {
    hdl  handle.Handle
    w    *stream.Writer
    r    *stream.Reader
    refs StreamRefSender
    log  *zap.Logger

    key       protocol.TransferKey
    drainID   protocol.StreamID
    drainPeer protocol.NodeID
}

func (t *transfer) negotiate(ctx context.Context) error {
    race, err := t.flush(ctx)
    if err != nil { return err }
    if race != nil { return t.flushRace(ctx, *race) }
    if err := t.w.SendBeginTransfer(t.drainPeer, t.key); err != nil { return err }
    return t.drainOriginal(ctx)
}

// flush forwards whatever is ready right now on either side. Each round
// polls the handle and the stream once, back to back, without waiting, so
// both sources are judged at the same instant. It returns the peer's
// BeginTransfer when one shows up.
func (t *transfer) flush(ctx context.Context) (*protocol.Frame, error) {
    for {
        if err := ctx.Err(); err != nil { return nil, err }
        m, mok, merr := t.hdl.TryRead()
        f, fok, ferr := t.r.TryNext()
        if merr != nil && !errors.Is(merr, ErrHandleClosed) { return nil, merr }
        if ferr != nil { return nil, ferr }

        if mok {
            if err := t.w.SendData(m); err != nil { return nil, err }
        }
        if fok {
            switch f.Kind {
            case protocol.FrameData:
                if err := t.hdl.Write(ctx, f.Payload); err != nil { return nil, err }
            case protocol.FrameBeginTransfer:
                return &f, nil
            default:
                return nil, violation("%s during flush", f.Kind)
            }
        }
        if !mok && !fok { return nil, nil }
    }
}

// flushRace handles a peer BeginTransfer seen before ours went out.
func (t *transfer) flushRace(ctx context.Context, peer protocol.Frame) error {
    t.log.Debug("transfer race during flush", zap.String("peer_dest", string(peer.Dest)), zap.Stringer("peer_key", peer.Key))
    if t.w.Endpoint() == stream.Client {
        // The Server never saw a race: it takes our ack as its own and
        // shuts the stream down.
        if err := t.w.SendAckTransfer(); err != nil { return err }
        if err := requireShutdown(ctx, t.r); err != nil { return err }
        return t.resolve(peer)
    }
    // The Client has already sent its BeginTransfer and waits for an ack;
    // it only learns of the race from ours.
    if err := t.w.SendBeginTransfer(t.drainPeer, t.key); err != nil { return err }
    if err := t.w.SendAckTransfer(); err != nil { return err }
    if err := t.requireAck(ctx); err != nil { return err }
    return t.resolve(peer)
}

// drainOriginal runs after our BeginTransfer was sent. Data still in
// flight goes into the handle and on to the drain.
func (t *transfer) drainOriginal(ctx context.Context) error {
    for {
        f, err := t.r.Next(ctx)
        if err != nil { return err }
        switch f.Kind {
        case protocol.FrameData:
            if err := t.hdl.Write(ctx, f.Payload); err != nil { return err }
        case protocol.FrameBeginTransfer:
            t.log.Debug("transfer race after begin", zap.String("peer_dest", string(f.Dest)), zap.Stringer("peer_key", f.Key))
            if err := t.w.SendAckTransfer(); err != nil { return err }
            if err := t.requireAck(ctx); err != nil { return err }
            return t.resolve(f)
        case protocol.FrameAckTransfer:
            if err := t.w.SendShutdown(nil); err != nil { return err }
            return t.refs.DrainingAwait(t.drainID, t.key)
        default:
            return violation("%s while draining", f.Kind)
        }
    }
}

func (t *transfer) requireAck(ctx context.Context) error {
    f, err := t.r.Next(ctx)
    if err != nil { return err }
    if f.Kind != protocol.FrameAckTransfer { return violation("%s instead of AckTransfer", f.Kind) }
    return nil
}

// resolve breaks a race by endpoint: the Client opens the next stream with
// the peer's key, the Server waits for it under its own.
func (t *transfer) resolve(peer protocol.Frame) error {
    if t.w.Endpoint() == stream.Client {
        return t.refs.DrainingInitiate(t.drainID, peer.Dest, peer.Key)
    }
    return t.refs.DrainingAwait(t.drainID, t.key)
}

func requireShutdown(ctx context.Context, r *stream.Reader) error {
    f, err := r.Next(ctx)
    if err != nil { return err }
    if f.Kind != protocol.FrameShutdown { return violation("%s instead of Shutdown", f.Kind) }
    return f.ShutdownErr()
}
