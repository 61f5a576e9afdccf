package mem

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "time"

    "ttxfer/pkg/transport"
)

var (
    ErrListenerExists = errors.New("mem: listener already exists")
    ErrNoListener     = errors.New("mem: no such listener")
    ErrClosed         = errors.New("mem: closed")
)

// Transport is an in-process transport. Every stream is its own net.Pipe, so
// streams on one session are independent. Useful for tests and for
// processes hosting several nodes.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
    dials     uint64
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok { return nil, ErrListenerExists }
    l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    t.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
        case <-l.closeCh:
        }
        _ = l.Close()
        t.mu.Lock(); delete(t.listeners, name); t.mu.Unlock()
    }()
    return l, nil
}

// Dial connects to the listener registered under name. The accepting side
// sees a temporary peer id until the dialer names itself.
func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.mu.Lock()
    l := t.listeners[name]
    t.dials++
    from := memAddr(fmt.Sprintf("dial:%s#%d", name, t.dials))
    t.mu.Unlock()
    if l == nil { return nil, ErrNoListener }
    now := time.Now()
    cli := newSession(peer, from, memAddr(name), now)
    srv := newSession(transport.PeerInfo{}, memAddr(name), from, now)
    srv.peer = transport.PeerInfo{ID: transport.TempNodeID(transport.KindMem, srv.raddr), Addr: srv.raddr.String()}
    cli.remote, srv.remote = srv, cli
    select {
    case l.newCh <- srv:
    case <-l.closeCh:
        return nil, ErrClosed
    case <-ctx.Done():
        return nil, ctx.Err()
    }
    return cli, nil
}

type listener struct {
    name      string
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, ErrClosed
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.closeOnce.Do(func() { close(l.closeCh) })
    return nil
}

type memAddr string
func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
    mu     sync.Mutex
    peer   transport.PeerInfo
    laddr  memAddr
    raddr  memAddr
    remote *session

    incoming  chan *pipeStream
    streams   map[*pipeStream]struct{}
    closeCh   chan struct{}
    closeOnce sync.Once

    establishedAt time.Time
    lastSeen      time.Time
}

func newSession(peer transport.PeerInfo, laddr, raddr memAddr, at time.Time) *session {
    return &session{
        peer:          peer,
        laddr:         laddr,
        raddr:         raddr,
        incoming:      make(chan *pipeStream, 16),
        streams:       make(map[*pipeStream]struct{}),
        closeCh:       make(chan struct{}),
        establishedAt: at,
    }
}

func (s *session) Peer() transport.PeerInfo {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.peer
}
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr { return s.laddr }
func (s *session) RemoteAddr() net.Addr { return s.raddr }

func (s *session) OpenStream(ctx context.Context) (transport.Stream, error) {
    c1, c2 := net.Pipe()
    local, far := newPipeStream(c1, s), newPipeStream(c2, s.remote)
    if !s.track(local) || !s.remote.track(far) {
        _ = c1.Close(); _ = c2.Close()
        return nil, ErrClosed
    }
    select {
    case s.remote.incoming <- far:
        return local, nil
    case <-s.remote.closeCh:
    case <-s.closeCh:
    case <-ctx.Done():
        _ = local.Close(); _ = far.Close()
        return nil, ctx.Err()
    }
    _ = local.Close(); _ = far.Close()
    return nil, ErrClosed
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
    select {
    case st := <-s.incoming:
        return st, nil
    case <-s.closeCh:
        return nil, ErrClosed
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

// Close tears down both ends of the session.
func (s *session) Close() error {
    s.shutdown()
    if s.remote != nil { s.remote.shutdown() }
    return nil
}

func (s *session) shutdown() {
    s.closeOnce.Do(func() {
        close(s.closeCh)
        s.mu.Lock()
        streams := s.streams
        s.streams = map[*pipeStream]struct{}{}
        s.mu.Unlock()
        for st := range streams { _ = st.c.Close() }
    })
}

func (s *session) track(st *pipeStream) bool {
    s.mu.Lock(); defer s.mu.Unlock()
    select {
    case <-s.closeCh:
        return false
    default:
    }
    s.streams[st] = struct{}{}
    return true
}

func (s *session) untrack(st *pipeStream) {
    s.mu.Lock(); delete(s.streams, st); s.mu.Unlock()
}

func (s *session) touch() { s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock() }

// pipeStream carries u32 LE length-prefixed records over one net.Pipe end.
type pipeStream struct {
    mu     sync.Mutex
    c      net.Conn
    br     *bufio.Reader
    bw     *bufio.Writer
    parent *session
}

func newPipeStream(c net.Conn, parent *session) *pipeStream {
    return &pipeStream{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), parent: parent}
}

func (st *pipeStream) SendBytes(b []byte) error {
    st.mu.Lock(); defer st.mu.Unlock()
    if err := transport.WriteRecord(st.bw, b); err != nil { return err }
    st.parent.touch()
    return nil
}

func (st *pipeStream) RecvBytes() ([]byte, error) {
    b, err := transport.ReadRecord(st.br)
    if err != nil { return nil, err }
    st.parent.touch()
    return b, nil
}

func (st *pipeStream) Close() error {
    st.parent.untrack(st)
    return st.c.Close()
}
