//go:build unix

package handle

import (
    "context"
    "errors"
    "io"
    "net"
    "os"
    "sync"
    "sync/atomic"
    "syscall"
    "time"

    "github.com/prep/socketpair"
)

const socketChunk = 64 << 10

// socketEnd adapts one end of an OS socket pair. TryRead is a
// non-blocking read of the descriptor itself, so whatever the kernel holds
// counts as ready. Readiness is watched on a duplicate descriptor; the
// watcher never consumes bytes.
type socketEnd struct {
    c     net.Conn
    rc    syscall.RawConn
    watch net.Conn
    ready chan struct{}

    rmu sync.Mutex
    buf []byte
    eof bool

    wmu    sync.Mutex
    closed atomic.Bool
}

// NewSocketPair returns two connected stream sockets.
func NewSocketPair() (Handle, Handle, error) {
    a, b, err := socketpair.New("unix")
    if err != nil { return nil, nil, err }
    ea, err := newSocketEnd(a)
    if err != nil {
        _ = a.Close(); _ = b.Close()
        return nil, nil, err
    }
    eb, err := newSocketEnd(b)
    if err != nil {
        _ = ea.Close(); _ = b.Close()
        return nil, nil, err
    }
    return ea, eb, nil
}

func newSocketEnd(c net.Conn) (*socketEnd, error) {
    sc, ok := c.(syscall.Conn)
    if !ok { return nil, errors.New("handle: socket exposes no descriptor") }
    rc, err := sc.SyscallConn()
    if err != nil { return nil, err }
    fc, ok := c.(interface{ File() (*os.File, error) })
    if !ok { return nil, errors.New("handle: socket cannot be duplicated") }
    f, err := fc.File()
    if err != nil { return nil, err }
    watch, err := net.FileConn(f)
    _ = f.Close()
    if err != nil { return nil, err }

    s := &socketEnd{c: c, rc: rc, watch: watch, ready: make(chan struct{}, 1), buf: make([]byte, socketChunk)}
    go s.watchReadable()
    return s, nil
}

// watchReadable signals ready on every readability edge until the end is
// closed.
func (s *socketEnd) watchReadable() {
    defer s.signal()
    sc, ok := s.watch.(syscall.Conn)
    if !ok { return }
    rc, err := sc.SyscallConn()
    if err != nil { return }
    for {
        waited := false
        err := rc.Read(func(uintptr) bool {
            // first call parks in the poller, the second reports the edge
            if waited { return true }
            waited = true
            return false
        })
        if err != nil { return }
        s.signal()
    }
}

func (s *socketEnd) signal() {
    select {
    case s.ready <- struct{}{}:
    default:
    }
}

func (s *socketEnd) Kind() Kind             { return KindSocket }
func (s *socketEnd) Ready() <-chan struct{} { return s.ready }

func (s *socketEnd) TryRead() (Message, bool, error) {
    if s.closed.Load() { return nil, false, ErrClosed }
    s.rmu.Lock()
    defer s.rmu.Unlock()
    if s.eof { return nil, false, ErrPeerClosed }

    var n int
    var rerr error
    err := s.rc.Read(func(fd uintptr) bool {
        for {
            n, rerr = syscall.Read(int(fd), s.buf)
            if rerr != syscall.EINTR { return true }
        }
    })
    switch {
    case err != nil:
        if s.closed.Load() { return nil, false, ErrClosed }
        return nil, false, err
    case rerr == syscall.EAGAIN:
        return nil, false, nil
    case rerr == syscall.ECONNRESET:
        // the peer closed with bytes of ours unread
        s.eof = true
        return nil, false, ErrPeerClosed
    case rerr != nil:
        return nil, false, rerr
    case n == 0:
        s.eof = true
        return nil, false, ErrPeerClosed
    }
    return append(Message(nil), s.buf[:n]...), true, nil
}

func (s *socketEnd) Read(ctx context.Context) (Message, error) { return read(ctx, s) }

func (s *socketEnd) Write(ctx context.Context, msg Message) error {
    if s.closed.Load() { return ErrClosed }
    s.wmu.Lock()
    defer s.wmu.Unlock()
    if dl, ok := ctx.Deadline(); ok {
        _ = s.c.SetWriteDeadline(dl)
        defer func() { _ = s.c.SetWriteDeadline(time.Time{}) }()
    }
    if _, err := s.c.Write(msg); err != nil {
        if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrClosedPipe) {
            return ErrPeerClosed
        }
        return err
    }
    return nil
}

func (s *socketEnd) Close() error {
    if s.closed.Swap(true) { return nil }
    _ = s.watch.Close()
    return s.c.Close()
}
