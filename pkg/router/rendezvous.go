package router

import (
    "context"
    "sync"
    "time"
)

// rendezvous pairs one delivery with one waiter under a key. Whichever side
// arrives first parks in the slot. Deliveries nobody claims within ttl are
// handed to discard.
type rendezvous[K comparable, V any] struct {
    mu      sync.Mutex
    slots   map[K]*slot[V]
    ttl     time.Duration
    discard func(K, V)
}

type slot[V any] struct {
    ch      chan V
    filled  bool
    waiting bool
}

func newRendezvous[K comparable, V any](ttl time.Duration, discard func(K, V)) *rendezvous[K, V] {
    return &rendezvous[K, V]{slots: make(map[K]*slot[V]), ttl: ttl, discard: discard}
}

func (r *rendezvous[K, V]) slotLocked(k K) *slot[V] {
    s := r.slots[k]
    if s == nil {
        s = &slot[V]{ch: make(chan V, 1)}
        r.slots[k] = s
    }
    return s
}

func (r *rendezvous[K, V]) deliver(k K, v V) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    s := r.slotLocked(k)
    if s.filled { return ErrDuplicateKey }
    s.filled = true
    s.ch <- v
    if !s.waiting && r.ttl > 0 {
        time.AfterFunc(r.ttl, func() { r.expire(k, s) })
    }
    return nil
}

func (r *rendezvous[K, V]) await(ctx context.Context, k K) (V, error) {
    var zero V
    r.mu.Lock()
    s := r.slotLocked(k)
    if s.waiting {
        r.mu.Unlock()
        return zero, ErrDuplicateKey
    }
    s.waiting = true
    r.mu.Unlock()

    select {
    case v := <-s.ch:
        r.mu.Lock()
        if r.slots[k] == s { delete(r.slots, k) }
        r.mu.Unlock()
        return v, nil
    case <-ctx.Done():
        r.mu.Lock()
        s.waiting = false
        if r.slots[k] == s {
            if !s.filled {
                delete(r.slots, k)
            } else if r.ttl > 0 {
                time.AfterFunc(r.ttl, func() { r.expire(k, s) })
            }
        }
        r.mu.Unlock()
        return zero, ctx.Err()
    }
}

func (r *rendezvous[K, V]) expire(k K, s *slot[V]) {
    r.mu.Lock()
    if r.slots[k] != s || s.waiting {
        r.mu.Unlock()
        return
    }
    var v V
    select {
    case v = <-s.ch:
    default:
        r.mu.Unlock()
        return
    }
    delete(r.slots, k)
    r.mu.Unlock()
    if r.discard != nil { r.discard(k, v) }
}

// pending reports how many keys currently hold a slot.
func (r *rendezvous[K, V]) pending() int {
    r.mu.Lock(); defer r.mu.Unlock()
    return len(r.slots)
}
