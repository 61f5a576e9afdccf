package stream

import (
    "bufio"
    "net"
    "sync"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/transport"
)

// Pipe returns both ends of an in-process stream: the first is the Client
// end held by node a, the second the Server end held by node b.
func Pipe(id protocol.StreamID, a, b protocol.NodeID, opts Options) (Pair, Pair) {
    c1, c2 := net.Pipe()
    client := New(newConnStream(c1), Info{ID: id, Peer: b, Endpoint: Client}, opts)
    server := New(newConnStream(c2), Info{ID: id, Peer: a, Endpoint: Server}, opts)
    return client, server
}

// connStream frames records over a net.Conn.
type connStream struct {
    mu sync.Mutex
    c  net.Conn
    br *bufio.Reader
    bw *bufio.Writer
}

func newConnStream(c net.Conn) *connStream {
    return &connStream{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (s *connStream) SendBytes(b []byte) error {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.WriteRecord(s.bw, b)
}

func (s *connStream) RecvBytes() ([]byte, error) { return transport.ReadRecord(s.br) }
func (s *connStream) Close() error               { return s.c.Close() }
