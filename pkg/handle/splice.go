package handle

import (
    "context"
    "errors"

    "golang.org/x/sync/errgroup"
)

// Splice copies messages in both directions between a and b until either
// side reports ErrPeerClosed, then closes both ends.
func Splice(ctx context.Context, a, b Handle) error {
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return pipeOneWay(gctx, a, b) })
    g.Go(func() error { return pipeOneWay(gctx, b, a) })
    err := g.Wait()
    _ = a.Close()
    _ = b.Close()
    if errors.Is(err, errSpliceDone) { return nil }
    return err
}

var errSpliceDone = errors.New("splice done")

func pipeOneWay(ctx context.Context, from, to Handle) error {
    for {
        m, err := from.Read(ctx)
        if errors.Is(err, ErrPeerClosed) { return errSpliceDone }
        if err != nil { return err }
        if err := to.Write(ctx, m); err != nil {
            if errors.Is(err, ErrPeerClosed) { return errSpliceDone }
            return err
        }
    }
}
