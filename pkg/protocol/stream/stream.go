// Package stream turns a transport.Stream into a typed pair of frame writer
// and frame reader bound to one Endpoint role.
package stream

import (
    "context"
    "errors"
    "fmt"
    "sync"

    "go.uber.org/zap"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/codec"
    "ttxfer/pkg/transport"
)

var (
    // ErrStreamClosed is returned by the reader once the underlying stream ended.
    ErrStreamClosed = errors.New("stream: closed")
    // ErrStreamDone is returned by a writer after its terminal frame.
    ErrStreamDone = errors.New("stream: terminal frame already sent")
    // ErrDrainOnly is returned when EndTransfer is sent outside a drain stream.
    ErrDrainOnly = errors.New("stream: EndTransfer is reserved for drain streams")
)

// Endpoint is the fixed role of one end of a stream. The opening side is Client.
type Endpoint uint8

const (
    Client Endpoint = iota + 1
    Server
)

func (e Endpoint) String() string {
    switch e {
    case Client:
        return "client"
    case Server:
        return "server"
    default:
        return "unknown"
    }
}

// Opposite returns the role held by the other end.
func (e Endpoint) Opposite() Endpoint {
    if e == Client { return Server }
    return Client
}

// Options configures frame encoding and buffering.
type Options struct {
    Registry *codec.Registry
    Format   protocol.Format
    // Buffer is the number of decoded frames the reader keeps ahead.
    Buffer int
    Logger *zap.Logger
}

func (o Options) withDefaults() Options {
    if o.Registry == nil { o.Registry = codec.NewRegistry() }
    if o.Format == protocol.FormatUnknown { o.Format = protocol.FormatCBOR }
    if o.Buffer <= 0 { o.Buffer = 64 }
    if o.Logger == nil { o.Logger = zap.L() }
    return o
}

// Info describes a stream's identity as seen from one end.
type Info struct {
    ID       protocol.StreamID
    Peer     protocol.NodeID
    Endpoint Endpoint
}

// Writer sends frames on one stream. It is safe for concurrent use.
type Writer struct {
    mu   sync.Mutex
    st   transport.Stream
    info Info
    reg  *codec.Registry
    fmt  protocol.Format
    log  *zap.Logger
    done bool
}

// Reader decodes frames from one stream in a background pump.
type Reader struct {
    info      Info
    incoming  chan Incoming
    log       *zap.Logger
    closeOnce sync.Once
    stop      chan struct{}
}

// Incoming is one decoding result; Err is set for the final item.
type Incoming struct {
    Frame protocol.Frame
    Err   error
}

// Pair is the two halves of one stream end.
type Pair struct {
    W *Writer
    R *Reader
}

// New wraps st. The close of st is owned by the returned writer.
func New(st transport.Stream, info Info, opts Options) Pair {
    opts = opts.withDefaults()
    log := opts.Logger.With(zap.Stringer("stream", info.ID), zap.String("peer", string(info.Peer)), zap.Stringer("endpoint", info.Endpoint))
    w := &Writer{st: st, info: info, reg: opts.Registry, fmt: opts.Format, log: log}
    r := &Reader{info: info, incoming: make(chan Incoming, opts.Buffer), log: log, stop: make(chan struct{})}
    go r.pump(st, opts.Registry)
    return Pair{W: w, R: r}
}

func (w *Writer) ID() protocol.StreamID { return w.info.ID }
func (w *Writer) Peer() protocol.NodeID { return w.info.Peer }
func (w *Writer) Endpoint() Endpoint    { return w.info.Endpoint }

// Send validates and writes f. EndTransfer is refused; see DrainStream.
func (w *Writer) Send(f protocol.Frame) error {
    if f.Kind == protocol.FrameEndTransfer { return ErrDrainOnly }
    return w.send(f)
}

func (w *Writer) send(f protocol.Frame) error {
    b, err := protocol.EncodeFrame(w.reg, w.fmt, f)
    if err != nil { return err }
    w.mu.Lock()
    defer w.mu.Unlock()
    if w.done { return fmt.Errorf("%w: cannot send %s", ErrStreamDone, f.Kind) }
    if err := w.st.SendBytes(b); err != nil { return fmt.Errorf("send %s: %w", f.Kind, err) }
    if f.Kind == protocol.FrameShutdown || f.Kind == protocol.FrameEndTransfer { w.done = true }
    w.log.Debug("frame sent", zap.Stringer("frame", f))
    return nil
}

func (w *Writer) SendHello() error        { return w.Send(protocol.HelloFrame()) }
func (w *Writer) SendData(p []byte) error { return w.Send(protocol.DataFrame(p)) }
func (w *Writer) SendAckTransfer() error  { return w.Send(protocol.AckTransferFrame()) }

func (w *Writer) SendBeginTransfer(dest protocol.NodeID, key protocol.TransferKey) error {
    return w.Send(protocol.BeginTransferFrame(dest, key))
}

// SendShutdown sends the terminal result; nil means Ok.
func (w *Writer) SendShutdown(result error) error { return w.Send(protocol.ShutdownFrame(result)) }

// Done reports whether a terminal frame has been sent.
func (w *Writer) Done() bool {
    w.mu.Lock(); defer w.mu.Unlock()
    return w.done
}

// Close closes the underlying transport stream.
func (w *Writer) Close() error { return w.st.Close() }

func (r *Reader) ID() protocol.StreamID { return r.info.ID }
func (r *Reader) Peer() protocol.NodeID { return r.info.Peer }
func (r *Reader) Endpoint() Endpoint    { return r.info.Endpoint }

func (r *Reader) pump(st transport.Stream, reg *codec.Registry) {
    defer close(r.incoming)
    for {
        b, err := st.RecvBytes()
        if err != nil {
            r.deliver(Incoming{Err: fmt.Errorf("%w: %v", ErrStreamClosed, err)})
            return
        }
        f, err := protocol.DecodeFrame(reg, b)
        if err != nil {
            r.log.Warn("dropping stream after undecodable frame", zap.Error(err))
            r.deliver(Incoming{Err: err})
            _ = st.Close()
            return
        }
        if !r.deliver(Incoming{Frame: f}) { return }
    }
}

func (r *Reader) deliver(in Incoming) bool {
    select {
    case r.incoming <- in:
        return true
    case <-r.stop:
        return false
    }
}

// Incoming exposes the decoded frames for use in select statements. The
// channel is closed after the item carrying the terminal error.
func (r *Reader) Incoming() <-chan Incoming { return r.incoming }

// Next blocks for the next frame.
func (r *Reader) Next(ctx context.Context) (protocol.Frame, error) {
    select {
    case in, ok := <-r.incoming:
        return unpack(in, ok)
    case <-ctx.Done():
        return protocol.Frame{}, ctx.Err()
    }
}

// TryNext returns the next frame if one is already decoded, without waiting.
func (r *Reader) TryNext() (protocol.Frame, bool, error) {
    select {
    case in, ok := <-r.incoming:
        f, err := unpack(in, ok)
        if err != nil { return protocol.Frame{}, false, err }
        return f, true, nil
    default:
        return protocol.Frame{}, false, nil
    }
}

// Buffered reports how many decoded items are waiting.
func (r *Reader) Buffered() int { return len(r.incoming) }

// Stop releases the pump if nobody will read the remaining frames.
func (r *Reader) Stop() { r.closeOnce.Do(func() { close(r.stop) }) }

func unpack(in Incoming, ok bool) (protocol.Frame, error) {
    if !ok { return protocol.Frame{}, ErrStreamClosed }
    return in.Frame, in.Err
}
