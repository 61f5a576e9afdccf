package quic

import (
    "bufio"
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "errors"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "ttxfer/pkg/transport"
)

const alpn = "ttxfer"

var ErrListenerClosed = errors.New("quic: listener closed")

// Transport implements QUIC sessions. Every mesh stream maps onto one QUIC
// bidirectional stream carrying u32 LE length-prefixed records.
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

// New builds a transport with an ephemeral self-signed server certificate.
func New() (*Transport, error) {
    cert, err := selfSignedCert()
    if err != nil { return nil, err }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    qconf := &quicgo.Config{KeepAlivePeriod: 15 * time.Second, MaxIdleTimeout: time.Minute}
    return &Transport{tlsConf: tlsConf, quicConf: qconf}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUICDirect }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go ql.acceptLoop(ctx)
    go func() {
        select {
        case <-ctx.Done():
        case <-ql.closeCh:
        }
        _ = ql.Close()
    }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    // Peer identity is not verified by TLS; nodes name themselves in stream headers.
    tlsClient := &tls.Config{
        InsecureSkipVerify: true,
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    return newSession(c, peer), nil
}

// ---- Listener ----

type listener struct {
    l         *quicgo.Listener
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, ErrListenerClosed
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    var err error
    l.closeOnce.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil { return }
        raddr := c.RemoteAddr()
        s := newSession(c, transport.PeerInfo{ID: transport.TempNodeID(transport.KindQUICDirect, raddr), Addr: raddr.String(), Reachable: true})
        select {
        case l.newCh <- s:
        default:
            _ = s.Close()
        }
    }
}

// ---- Session/Streams ----

type session struct {
    mu   sync.Mutex
    peer transport.PeerInfo
    c    quicgo.Connection

    establishedAt time.Time
    lastSeen      time.Time
}

func newSession(c quicgo.Connection, peer transport.PeerInfo) *session {
    return &session{peer: peer, c: c, establishedAt: time.Now()}
}

func (s *session) Peer() transport.PeerInfo {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.peer
}
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindQUICDirect }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// OpenStream opens a fresh QUIC stream. The peer only learns about it once
// the first record is written.
func (s *session) OpenStream(ctx context.Context) (transport.Stream, error) {
    qs, err := s.c.OpenStreamSync(ctx)
    if err != nil { return nil, err }
    return wrapStream(qs, s), nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
    qs, err := s.c.AcceptStream(ctx)
    if err != nil { return nil, err }
    return wrapStream(qs, s), nil
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) Close() error { return s.c.CloseWithError(0, "") }

func (s *session) touch() { s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock() }

// qstream implements transport.Stream over a QUIC bidirectional stream.
type qstream struct {
    mu     sync.Mutex
    qs     quicgo.Stream
    br     *bufio.Reader
    bw     *bufio.Writer
    parent *session
}

func wrapStream(qs quicgo.Stream, parent *session) *qstream {
    return &qstream{qs: qs, br: bufio.NewReader(qs), bw: bufio.NewWriter(qs), parent: parent}
}

func (st *qstream) SendBytes(b []byte) error {
    st.mu.Lock(); defer st.mu.Unlock()
    if err := transport.WriteRecord(st.bw, b); err != nil { return err }
    st.parent.touch()
    return nil
}

func (st *qstream) RecvBytes() ([]byte, error) {
    b, err := transport.ReadRecord(st.br)
    if err != nil { return nil, err }
    st.parent.touch()
    return b, nil
}

// Close finishes the send direction and abandons unread input.
func (st *qstream) Close() error {
    st.qs.CancelRead(0)
    return st.qs.Close()
}

// ---- Helpers ----

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
