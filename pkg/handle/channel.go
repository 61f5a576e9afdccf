package handle

import (
    "context"
    "sync/atomic"
)

// channelEnd is one end of an in-process message channel.
type channelEnd struct {
    in, out *queue
    closed  atomic.Bool
}

// NewChannelPair returns two connected channel ends.
func NewChannelPair() (Handle, Handle) {
    ab, ba := newQueue(), newQueue()
    return &channelEnd{in: ba, out: ab}, &channelEnd{in: ab, out: ba}
}

func (c *channelEnd) Kind() Kind             { return KindChannel }
func (c *channelEnd) Ready() <-chan struct{} { return c.in.ready }

func (c *channelEnd) TryRead() (Message, bool, error) {
    if c.closed.Load() { return nil, false, ErrClosed }
    m, ok, peerGone := c.in.pop()
    if ok { return m, true, nil }
    if peerGone { return nil, false, ErrPeerClosed }
    return nil, false, nil
}

func (c *channelEnd) Read(ctx context.Context) (Message, error) { return read(ctx, c) }

func (c *channelEnd) Write(ctx context.Context, msg Message) error {
    if c.closed.Load() { return ErrClosed }
    if err := ctx.Err(); err != nil { return err }
    if !c.out.push(append(Message(nil), msg...)) { return ErrPeerClosed }
    return nil
}

// Close lets the peer read what is already queued, then report ErrPeerClosed.
func (c *channelEnd) Close() error {
    if c.closed.Swap(true) { return nil }
    c.out.close()
    c.in.close()
    return nil
}
