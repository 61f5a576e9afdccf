package proxy

import (
    "context"
    "fmt"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/router"
)

// Follow answers a BeginTransfer(dest, key) received on w/r: it acks,
// hands p's handle to the router and, while the router opens the transfer,
// waits for the original stream to shut down cleanly. The original stream
// is closed once it has.
//
// When the router fuses the transfer locally, initiation must resolve to
// DecisionAbandoned; anything else is a logic error and panics. A nil
// initiation skips the check. When the router opened a stream, proxying
// resumes on it and Follow returns when that proxy ends.
//
// Once the ack is out the peer considers the transfer done. A router
// failure after that point is returned as ErrRouter and not repaired.
func Follow(ctx context.Context, p *Proxy, initiation <-chan Decision, w *stream.Writer, r *stream.Reader, dest protocol.NodeID, key protocol.TransferKey) error {
    if err := w.SendAckTransfer(); err != nil { return err }
    hdl, err := p.TakeHandle()
    if err != nil { return err }
    rtr, err := p.Router()
    if err != nil {
        _ = hdl.Close()
        return err
    }
    log := p.log.With(zap.Stringer("stream", w.ID()), zap.String("dest", string(dest)), zap.Stringer("key", key))

    var opened router.Opened
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        o, err := rtr.OpenTransfer(gctx, dest, key, hdl)
        if err != nil { return fmt.Errorf("%w: %w", ErrRouter, err) }
        opened = o
        return nil
    })
    g.Go(func() error { return requireShutdown(gctx, r) })
    if err := g.Wait(); err != nil {
        switch o := opened.(type) {
        case nil:
            _ = hdl.Close()
        case router.Remote:
            _ = o.Stream.W.Close()
            _ = hdl.Close()
        }
        log.Warn("follow failed", zap.Error(err))
        return err
    }
    _ = w.Close()

    switch o := opened.(type) {
    case router.Fused:
        log.Debug("transfer fused")
        if initiation == nil { return nil }
        select {
        case d := <-initiation:
            if d != DecisionAbandoned {
                panic(fmt.Sprintf("proxy: fused transfer %s but local initiation %s", key, d))
            }
        case <-ctx.Done():
            return ctx.Err()
        }
        return nil
    case router.Remote:
        log.Debug("transfer reconnected", zap.Stringer("new_stream", o.Stream.W.ID()))
        return New(o.Handle, rtr, p.log).Run(ctx, o.Stream.W, o.Stream.R)
    default:
        return fmt.Errorf("%w: unexpected result %T", ErrRouter, opened)
    }
}
