package handle

import "sync"

// queue is an unbounded FIFO with a coalescing ready signal.
type queue struct {
    mu     sync.Mutex
    msgs   []Message
    closed bool
    ready  chan struct{}
}

func newQueue() *queue { return &queue{ready: make(chan struct{}, 1)} }

func (q *queue) push(m Message) bool {
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return false
    }
    q.msgs = append(q.msgs, m)
    q.mu.Unlock()
    q.signal()
    return true
}

// pop returns the oldest message; closed is reported only once the queue is empty.
func (q *queue) pop() (m Message, ok bool, closed bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if len(q.msgs) > 0 {
        m = q.msgs[0]
        q.msgs[0] = nil
        q.msgs = q.msgs[1:]
        return m, true, false
    }
    return nil, false, q.closed
}

func (q *queue) close() {
    q.mu.Lock()
    q.closed = true
    q.mu.Unlock()
    q.signal()
}

func (q *queue) signal() {
    select {
    case q.ready <- struct{}{}:
    default:
    }
}
