package proxy

import (
    "context"
    "errors"
    "fmt"
    "testing"
    "time"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/router"
    "ttxfer/pkg/transport"
    "ttxfer/pkg/transport/mem"
)

func testCtx(t *testing.T) context.Context {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    t.Cleanup(cancel)
    return ctx
}

func waitBuffered(t *testing.T, r *stream.Reader, n int) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for r.Buffered() < n {
        if time.Now().After(deadline) { t.Fatalf("reader buffered %d frames, want %d", r.Buffered(), n) }
        time.Sleep(time.Millisecond)
    }
}

func expectFrame(t *testing.T, ctx context.Context, r *stream.Reader, kind protocol.FrameKind) protocol.Frame {
    t.Helper()
    f, err := r.Next(ctx)
    if err != nil { t.Fatalf("waiting for %s: %v", kind, err) }
    if f.Kind != kind { t.Fatalf("got %s, want %s", f, kind) }
    return f
}

// expectClosed checks that r has nothing left before the end of stream.
func expectClosed(t *testing.T, ctx context.Context, r *stream.Reader) {
    t.Helper()
    f, err := r.Next(ctx)
    if err == nil { t.Fatalf("unexpected frame %s", f) }
    if !errors.Is(err, stream.ErrStreamClosed) { t.Fatalf("expected end of stream, got %v", err) }
}

// side is one end of a transfer under test: the proxy, the application end
// of its handle, its end of the original stream, and a drain whose far end
// is readable as sink.
type side struct {
    p     *Proxy
    app   handle.Handle
    own   stream.Pair
    drain *stream.DrainStream
    sink  stream.Pair
    refs  *RefSlot
}

// newSide builds one end around own over a channel handle. The drain goes
// to node to.
func newSide(t *testing.T, own stream.Pair, drainID protocol.StreamID, from, to protocol.NodeID) *side {
    t.Helper()
    return newSideOf(t, handle.KindChannel, own, drainID, from, to)
}

func newSideOf(t *testing.T, kind handle.Kind, own stream.Pair, drainID protocol.StreamID, from, to protocol.NodeID) *side {
    t.Helper()
    hdl, app, err := handle.New(kind)
    if err != nil { t.Fatalf("%s handle: %v", kind, err) }
    t.Cleanup(func() { _ = app.Close(); _ = hdl.Close() })
    dc, ds := stream.Pipe(drainID, from, to, stream.Options{})
    t.Cleanup(func() { _ = dc.W.Close(); _ = ds.W.Close(); _ = own.W.Close() })
    return &side{
        p:     New(hdl, nil, nil),
        app:   app,
        own:   own,
        drain: stream.NewDrainStream(dc.W),
        sink:  ds,
        refs:  NewRefSlot(),
    }
}

func (s *side) initiate(ctx context.Context) <-chan error {
    errc := make(chan error, 1)
    go func() { errc <- Initiate(ctx, s.p, s.app, s.own.W, s.own.R, s.drain, s.refs) }()
    return errc
}

// single builds a side holding role on stream 1 between a and b, with the
// far end returned for the test to script.
func single(t *testing.T, role stream.Endpoint) (*side, stream.Pair) {
    t.Helper()
    return singleOf(t, handle.KindChannel, role)
}

func singleOf(t *testing.T, kind handle.Kind, role stream.Endpoint) (*side, stream.Pair) {
    t.Helper()
    client, server := stream.Pipe(1, "a", "b", stream.Options{})
    own, peer := client, server
    if role == stream.Server { own, peer = server, client }
    t.Cleanup(func() { _ = peer.W.Close() })
    return newSideOf(t, kind, own, 2, own.W.Peer(), "m"), peer
}

func wait(t *testing.T, ctx context.Context, errc <-chan error) error {
    t.Helper()
    select {
    case err := <-errc:
        return err
    case <-ctx.Done():
        t.Fatalf("flow did not finish")
        return nil
    }
}

func expectRef(t *testing.T, ctx context.Context, s *RefSlot, want StreamRef) {
    t.Helper()
    got, err := s.Wait(ctx)
    if err != nil { t.Fatalf("no stream ref: %v", err) }
    if got != want { t.Fatalf("stream ref %s, want %s", got, want) }
    if len(s.C()) != 0 { t.Fatalf("more than one stream ref sent") }
}

// connect links routers a and b over tr and waits until b knows a.
func connect(t *testing.T, ctx context.Context, tr *mem.Transport, a, b *router.Router) {
    t.Helper()
    name := fmt.Sprintf("%s->%s", a.Local(), b.Local())
    l, err := tr.Listen(ctx, name)
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()
    cli, err := tr.Dial(ctx, name, transport.PeerInfo{ID: b.Local()})
    if err != nil { t.Fatalf("dial: %v", err) }
    srv, err := l.Accept(ctx)
    if err != nil { t.Fatalf("accept: %v", err) }
    t.Cleanup(func() { _ = cli.Close() })
    a.Manager().AddSession(cli)
    b.Manager().AddSession(srv)
    go a.Serve(ctx, cli)
    go b.Serve(ctx, srv)
    a.AddLink(a.Local(), b.Local(), 0)
    if err := a.Announce(ctx, cli); err != nil { t.Fatalf("announce: %v", err) }
    deadline := time.Now().Add(2 * time.Second)
    for b.Manager().GetSession(a.Local()) == nil {
        if time.Now().After(deadline) { t.Fatalf("%s never learned %s", b.Local(), a.Local()) }
        time.Sleep(time.Millisecond)
    }
}

func newRouter(id protocol.NodeID) *router.Router {
    return router.New(router.Options{Local: id, RendezvousTimeout: 5 * time.Second, OpenTimeout: time.Second})
}

// collect reads Data frames from r until their payloads add up to n bytes.
// Socket handles do not keep message boundaries, so callers compare bytes.
func collect(t *testing.T, ctx context.Context, r *stream.Reader, n int) string {
    t.Helper()
    var got []byte
    for len(got) < n {
        f := expectFrame(t, ctx, r, protocol.FrameData)
        got = append(got, f.Payload...)
    }
    return string(got)
}
