package router

import (
    "context"
    "errors"
    "fmt"
    "testing"
    "time"

    "ttxfer/pkg/handle"
    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/stream"
    "ttxfer/pkg/transport"
    "ttxfer/pkg/transport/mem"
)

func testCtx(t *testing.T) context.Context {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    t.Cleanup(cancel)
    return ctx
}

func newRouter(id protocol.NodeID) *Router {
    return New(Options{Local: id, RendezvousTimeout: time.Second, OpenTimeout: time.Second})
}

// connect dials from a to b over tr, serves both ends and waits until b
// has learned a's name.
func connect(t *testing.T, ctx context.Context, tr *mem.Transport, a, b *Router) {
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

func TestOpenTransferFusedWhenLocal(t *testing.T) {
    ctx := testCtx(t)
    r := newRouter("a")
    h, _ := handle.NewChannelPair()
    opened, err := r.OpenTransfer(ctx, "a", 7, h)
    if err != nil { t.Fatalf("open: %v", err) }
    if _, ok := opened.(Fused); !ok { t.Fatalf("expected Fused, got %T", opened) }
    if _, err := r.OpenTransfer(ctx, "a", 7, h); !errors.Is(err, ErrDuplicateKey) { t.Fatalf("duplicate key: %v", err) }

    arr, err := r.AwaitTransfer(ctx, 7)
    if err != nil { t.Fatalf("await: %v", err) }
    if !arr.Fused() || arr.Handle != h { t.Fatalf("arrival does not carry the fused handle") }
}

func TestOpenTransferRemote(t *testing.T) {
    ctx := testCtx(t)
    tr := mem.New()
    a, b := newRouter("a"), newRouter("b")
    connect(t, ctx, tr, a, b)

    h, _ := handle.NewChannelPair()
    opened, err := a.OpenTransfer(ctx, "b", 42, h)
    if err != nil { t.Fatalf("open: %v", err) }
    rem, ok := opened.(Remote)
    if !ok { t.Fatalf("expected Remote, got %T", opened) }
    if rem.Handle != h || rem.Stream.W.Endpoint() != stream.Client { t.Fatalf("remote: %+v", rem) }
    if err := rem.Stream.W.SendData([]byte("hi")); err != nil { t.Fatalf("send: %v", err) }

    arr, err := b.AwaitTransfer(ctx, 42)
    if err != nil { t.Fatalf("await: %v", err) }
    if arr.Fused() || arr.Header.HandleKind != "channel" || arr.Header.Source != "a" { t.Fatalf("arrival: %+v", arr.Header) }
    if arr.Stream.R.Endpoint() != stream.Server { t.Fatalf("receiving end must be server") }
    f, err := arr.Stream.R.Next(ctx)
    if err != nil || f.Kind != protocol.FrameData || string(f.Payload) != "hi" { t.Fatalf("first frame after hello: %s %v", f, err) }

    if err := arr.Stream.W.SendShutdown(nil); err != nil { t.Fatalf("shutdown: %v", err) }
    f, err = rem.Stream.R.Next(ctx)
    if err != nil || f.Kind != protocol.FrameShutdown { t.Fatalf("reply: %s %v", f, err) }
}

func TestDrainStreamRendezvous(t *testing.T) {
    ctx := testCtx(t)
    tr := mem.New()
    a, b := newRouter("a"), newRouter("b")
    connect(t, ctx, tr, a, b)

    d, err := a.OpenDrain(ctx, "b")
    if err != nil { t.Fatalf("open drain: %v", err) }
    got := make(chan error, 1)
    go func() {
        p, err := b.AwaitDrain(ctx, d.ID())
        if err != nil { got <- err; return }
        for _, want := range []protocol.FrameKind{protocol.FrameData, protocol.FrameEndTransfer} {
            f, err := p.R.Next(ctx)
            if err != nil { got <- err; return }
            if f.Kind != want { got <- fmt.Errorf("got %s want %s", f, want); return }
        }
        got <- nil
    }()
    if err := d.SendData([]byte("rest")); err != nil { t.Fatalf("data: %v", err) }
    if err := d.EndTransfer(); err != nil { t.Fatalf("end: %v", err) }
    if err := <-got; err != nil { t.Fatalf("drain side: %v", err) }
}

func TestRelayThroughMiddleNode(t *testing.T) {
    ctx := testCtx(t)
    tr := mem.New()
    a, b, c := newRouter("a"), newRouter("b"), newRouter("c")
    connect(t, ctx, tr, a, b)
    connect(t, ctx, tr, b, c)
    a.AddLink("b", "c", 1)

    if nh, ok := a.NextHop("c"); !ok || nh != "b" { t.Fatalf("next hop to c: %q %v", nh, ok) }
    h, _ := handle.NewChannelPair()
    opened, err := a.OpenTransfer(ctx, "c", 9, h)
    if err != nil { t.Fatalf("open: %v", err) }
    rem := opened.(Remote)

    arr, err := c.AwaitTransfer(ctx, 9)
    if err != nil { t.Fatalf("await: %v", err) }
    if arr.Header.Hops != 1 || arr.Header.Source != "a" { t.Fatalf("relayed header: %+v", arr.Header) }
    if err := arr.Stream.W.SendData([]byte("back")); err != nil { t.Fatalf("send: %v", err) }
    f, err := rem.Stream.R.Next(ctx)
    if err != nil || string(f.Payload) != "back" { t.Fatalf("reply through relay: %s %v", f, err) }
}

func TestNoRoute(t *testing.T) {
    ctx := testCtx(t)
    h, _ := handle.NewChannelPair()
    if _, err := newRouter("a").OpenTransfer(ctx, "nowhere", 1, h); !errors.Is(err, ErrNoRoute) {
        t.Fatalf("expected ErrNoRoute, got %v", err)
    }
}

func TestProxyStreamsReachAcceptor(t *testing.T) {
    ctx := testCtx(t)
    tr := mem.New()
    a, b := newRouter("a"), newRouter("b")
    accepted := make(chan protocol.StreamHeader, 1)
    b.SetAcceptor(func(_ context.Context, hdr protocol.StreamHeader, p stream.Pair) {
        accepted <- hdr
        _ = p.W.Close()
    })
    connect(t, ctx, tr, a, b)

    p, err := a.OpenStream(ctx, protocol.StreamHeader{Purpose: protocol.PurposeProxy, Dest: "b", HandleKind: "socket"})
    if err != nil { t.Fatalf("open: %v", err) }
    defer p.W.Close()
    select {
    case hdr := <-accepted:
        if hdr.HandleKind != "socket" || hdr.Stream != p.W.ID() { t.Fatalf("header: %+v", hdr) }
    case <-ctx.Done():
        t.Fatalf("acceptor never called")
    }
}

func TestFindPathPrefersCheaperLinks(t *testing.T) {
    r := newRouter("a")
    r.AddLink("a", "b", 1)
    r.AddLink("b", "c", 1)
    r.AddLink("a", "d", 5)
    r.AddLink("d", "c", 1)
    if got := fmt.Sprint(r.findPath("a", "c")); got != "[a b c]" { t.Fatalf("path: %s", got) }
    r.RemoveLink("b", "c")
    if got := fmt.Sprint(r.findPath("a", "c")); got != "[a d c]" { t.Fatalf("path after removal: %s", got) }
    if r.findPath("a", "zzz") != nil { t.Fatalf("unknown node must have no path") }
}

func TestUnclaimedTransferExpires(t *testing.T) {
    r := New(Options{Local: "a", RendezvousTimeout: 20 * time.Millisecond})
    h, peer := handle.NewChannelPair()
    if _, err := r.OpenTransfer(context.Background(), "a", 3, h); err != nil { t.Fatalf("open: %v", err) }

    ctx := testCtx(t)
    if _, err := peer.Read(ctx); !errors.Is(err, handle.ErrPeerClosed) { t.Fatalf("expired handle should be closed, got %v", err) }
    if n := r.transfers.pending(); n != 0 { t.Fatalf("%d slots left", n) }
}

func TestAwaitCancelThenDeliver(t *testing.T) {
    r := newRouter("a")
    cctx, cancel := context.WithCancel(context.Background())
    cancel()
    if _, err := r.AwaitTransfer(cctx, 5); !errors.Is(err, context.Canceled) { t.Fatalf("expected cancel, got %v", err) }

    ctx := testCtx(t)
    done := make(chan Arrival, 1)
    go func() {
        arr, err := r.AwaitTransfer(ctx, 5)
        if err == nil { done <- arr }
    }()
    h, _ := handle.NewChannelPair()
    time.Sleep(10 * time.Millisecond)
    if _, err := r.OpenTransfer(ctx, "a", 5, h); err != nil { t.Fatalf("open: %v", err) }
    select {
    case arr := <-done:
        if arr.Handle != h { t.Fatalf("wrong handle") }
    case <-ctx.Done():
        t.Fatalf("waiter never woke")
    }
}
