package proxy

import (
    "context"
    "fmt"

    "go.uber.org/zap"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/router"
)

// Land receives a moved capability on the destination node. It collects
// the drain stream named by ref until EndTransfer, then attaches the
// transfer stream (awaiting or opening it as ref says) behind a fresh
// handle pair. It returns the application's end and a channel with the
// result of the resumed proxy; ctx bounds that proxy's life.
func Land(ctx context.Context, rtr *router.Router, ref StreamRef, log *zap.Logger) (handle.Handle, <-chan error, error) {
    if log == nil { log = zap.L() }
    log = log.With(zap.Stringer("ref", ref))
    app, local := handle.NewChannelPair()
    fail := func(err error) (handle.Handle, <-chan error, error) {
        _ = app.Close()
        _ = local.Close()
        return nil, nil, err
    }

    dp, err := rtr.AwaitDrain(ctx, ref.DrainID)
    if err != nil { return fail(fmt.Errorf("%w: drain %s: %w", ErrRouter, ref.DrainID, err)) }
    n := 0
    for ended := false; !ended; {
        f, err := dp.R.Next(ctx)
        if err != nil {
            _ = dp.W.Close()
            return fail(err)
        }
        switch f.Kind {
        case protocol.FrameData:
            n++
            if err := local.Write(ctx, f.Payload); err != nil {
                _ = dp.W.Close()
                return fail(err)
            }
        case protocol.FrameEndTransfer:
            ended = true
        default:
            _ = dp.W.Close()
            return fail(violation("%s on drain stream", f.Kind))
        }
    }
    _ = dp.W.Close()
    log.Debug("drain collected", zap.Int("messages", n))

    done := make(chan error, 1)
    switch ref.Kind {
    case RefAwait:
        arr, err := rtr.AwaitTransfer(ctx, ref.Key)
        if err != nil { return fail(fmt.Errorf("%w: await %s: %w", ErrRouter, ref.Key, err)) }
        if arr.Fused() {
            go func() { done <- handle.Splice(ctx, local, arr.Handle) }()
        } else {
            px := New(local, rtr, log)
            go func() { done <- px.Run(ctx, arr.Stream.W, arr.Stream.R) }()
        }
    case RefInitiate:
        opened, err := rtr.OpenTransfer(ctx, ref.Dest, ref.Key, local)
        if err != nil { return fail(fmt.Errorf("%w: %w", ErrRouter, err)) }
        switch o := opened.(type) {
        case router.Remote:
            px := New(o.Handle, rtr, log)
            go func() { done <- px.Run(ctx, o.Stream.W, o.Stream.R) }()
        default:
            // parked for whoever awaits ref.Key on this node
            done <- nil
        }
    default:
        return fail(fmt.Errorf("proxy: cannot land %s", ref))
    }
    return app, done, nil
}
