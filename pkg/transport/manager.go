package transport

import (
    "sort"
    "sync"
    "time"
)

// Manager keeps at most one canonical Session per peer and applies a
// policy to deduplicate concurrent inbound/outbound links.
type Manager struct {
    mu    sync.RWMutex
    peers map[NodeID]Session
    // grace delays closing a replaced session so in-flight streams can finish
    grace time.Duration
}

func NewManager() *Manager {
    return &Manager{peers: make(map[NodeID]Session), grace: 500 * time.Millisecond}
}

// AddSession registers s for its peer. The loser of the election is closed
// (after the grace period when it was the previous canonical session).
// It returns whether s became canonical.
func (m *Manager) AddSession(s Session) bool {
    id := s.Peer().ID
    m.mu.Lock()
    cur := m.peers[id]
    if cur == nil || better(s, cur) {
        m.peers[id] = s
        m.mu.Unlock()
        if cur != nil { m.retire(cur) }
        return true
    }
    m.mu.Unlock()
    _ = s.Close()
    return false
}

// GetSession returns the current canonical session for a peer (if any).
func (m *Manager) GetSession(id NodeID) Session {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.peers[id]
}

// RemoveSession forgets s if it is still canonical for its peer.
func (m *Manager) RemoveSession(s Session) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id := s.Peer().ID
    if m.peers[id] == s { delete(m.peers, id) }
}

// ClosePeer closes the canonical session for a peer and clears it.
func (m *Manager) ClosePeer(id NodeID) {
    m.mu.Lock()
    s := m.peers[id]
    delete(m.peers, id)
    m.mu.Unlock()
    if s != nil { _ = s.Close() }
}

// CloseAll closes every canonical session.
func (m *Manager) CloseAll() {
    m.mu.Lock()
    all := m.peers
    m.peers = make(map[NodeID]Session)
    m.mu.Unlock()
    for _, s := range all { _ = s.Close() }
}

// ListPeers returns all known peer IDs in sorted order.
func (m *Manager) ListPeers() []NodeID {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make([]NodeID, 0, len(m.peers))
    for id := range m.peers { out = append(out, id) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// RebindPeer moves the session registered under oldID to newID once the
// remote node has named itself. If newID already has a session the election
// decides which one stays; the loser is closed.
func (m *Manager) RebindPeer(oldID, newID NodeID) bool {
    if oldID == newID || newID == "" { return false }
    m.mu.Lock()
    moving := m.peers[oldID]
    if moving == nil {
        m.mu.Unlock()
        return false
    }
    delete(m.peers, oldID)
    if mp, ok := moving.(MutablePeer); ok {
        pi := moving.Peer(); pi.ID = newID; mp.SetPeer(pi)
    }
    cur := m.peers[newID]
    if cur == nil || better(moving, cur) {
        m.peers[newID] = moving
        m.mu.Unlock()
        if cur != nil { m.retire(cur) }
        return true
    }
    m.mu.Unlock()
    go func() { _ = moving.Close() }()
    return false
}

func (m *Manager) retire(s Session) {
    time.AfterFunc(m.grace, func() { _ = s.Close() })
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
    switch k {
    case KindMem:
        return 120
    case KindQUICDirect:
        return 100
    default:
        return 0
    }
}

// better decides whether a should replace b as canonical.
func better(a, b Session) bool {
    ra := baseRank(a.TransportKind())
    rb := baseRank(b.TransportKind())
    if ra != rb { return ra > rb }

    qa := a.Quality()
    qb := b.Quality()
    if qa.RTT != qb.RTT { return qa.RTT < qb.RTT }
    // newer wins; reduces split-brain on reconnect races
    return qa.EstablishedAt.After(qb.EstablishedAt)
}
