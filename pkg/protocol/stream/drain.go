package stream

import (
    "ttxfer/pkg/protocol"
)

// DrainStream flushes residual Data toward the node a handle moved to. It
// ends with exactly one EndTransfer and accepts nothing afterwards.
type DrainStream struct {
    w *Writer
}

// NewDrainStream binds a writer that was opened with drain purpose.
func NewDrainStream(w *Writer) *DrainStream { return &DrainStream{w: w} }

func (d *DrainStream) ID() protocol.StreamID { return d.w.ID() }
func (d *DrainStream) Peer() protocol.NodeID { return d.w.Peer() }

func (d *DrainStream) SendData(p []byte) error { return d.w.send(protocol.DataFrame(p)) }

// EndTransfer sends the final frame. A second call fails with ErrStreamDone.
func (d *DrainStream) EndTransfer() error { return d.w.send(protocol.EndTransferFrame()) }

// Ended reports whether EndTransfer has been sent.
func (d *DrainStream) Ended() bool { return d.w.Done() }

func (d *DrainStream) Close() error { return d.w.Close() }
