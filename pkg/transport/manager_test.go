package transport

import (
    "context"
    "net"
    "sync/atomic"
    "testing"
    "time"
)

type fakeSession struct {
    peer   PeerInfo
    kind   Kind
    q      Quality
    closed atomic.Bool
}

func (f *fakeSession) Peer() PeerInfo         { return f.peer }
func (f *fakeSession) SetPeer(p PeerInfo)     { f.peer = p }
func (f *fakeSession) TransportKind() Kind    { return f.kind }
func (f *fakeSession) LocalAddr() net.Addr    { return nil }
func (f *fakeSession) RemoteAddr() net.Addr   { return nil }
func (f *fakeSession) Quality() Quality       { return f.q }
func (f *fakeSession) Close() error           { f.closed.Store(true); return nil }
func (f *fakeSession) OpenStream(context.Context) (Stream, error)   { return nil, net.ErrClosed }
func (f *fakeSession) AcceptStream(context.Context) (Stream, error) { return nil, net.ErrClosed }

func newFake(id NodeID, kind Kind, rtt time.Duration) *fakeSession {
    return &fakeSession{peer: PeerInfo{ID: id}, kind: kind, q: Quality{RTT: rtt, EstablishedAt: time.Now()}}
}

func waitClosed(t *testing.T, f *fakeSession) {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for !f.closed.Load() {
        if time.Now().After(deadline) { t.Fatalf("session %s was not closed", f.peer.ID) }
        time.Sleep(5 * time.Millisecond)
    }
}

func TestManagerPrefersBetterSession(t *testing.T) {
    m := NewManager()
    m.grace = time.Millisecond
    slow := newFake("b", KindQUICDirect, 50*time.Millisecond)
    fast := newFake("b", KindQUICDirect, 5*time.Millisecond)
    if !m.AddSession(slow) { t.Fatalf("first session must become canonical") }
    if !m.AddSession(fast) { t.Fatalf("lower rtt should win") }
    if m.GetSession("b") != fast { t.Fatalf("canonical session not replaced") }
    waitClosed(t, slow)

    worse := newFake("b", KindQUICDirect, time.Second)
    if m.AddSession(worse) { t.Fatalf("worse session must lose") }
    if !worse.closed.Load() { t.Fatalf("losing session should be closed at once") }

    mem := newFake("b", KindMem, time.Second)
    if !m.AddSession(mem) { t.Fatalf("mem ranks above quic") }
}

func TestManagerRebindAndList(t *testing.T) {
    m := NewManager()
    tmp := TempNodeID(KindMem, nil)
    if !IsTemp(tmp) { t.Fatalf("%s should be temporary", tmp) }
    s := newFake(tmp, KindMem, 0)
    m.AddSession(s)
    if !m.RebindPeer(tmp, "c") { t.Fatalf("rebind failed") }
    if m.GetSession(tmp) != nil || m.GetSession("c") != s { t.Fatalf("session not moved") }
    if s.Peer().ID != "c" { t.Fatalf("peer id not updated: %s", s.Peer().ID) }
    if m.RebindPeer("missing", "d") { t.Fatalf("rebind of unknown id must fail") }

    m.AddSession(newFake("a", KindMem, 0))
    got := m.ListPeers()
    if len(got) != 2 || got[0] != "a" || got[1] != "c" { t.Fatalf("peers: %v", got) }

    m.RemoveSession(s)
    if m.GetSession("c") != nil { t.Fatalf("remove failed") }
    m.CloseAll()
    if len(m.ListPeers()) != 0 { t.Fatalf("close all left peers") }
}
