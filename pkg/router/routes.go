package router

import (
    "container/heap"
    "time"

    "go.uber.org/zap"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/transport"
)

// SetRoute pins dest to be reached through via. An empty via removes it.
func (r *Router) SetRoute(dest, via protocol.NodeID) {
    r.mu.Lock(); defer r.mu.Unlock()
    if via == "" {
        delete(r.routes, dest)
        return
    }
    r.routes[dest] = via
}

// AddLink records a bidirectional adjacency. Links leaving this node are
// re-weighted from live session quality during path search.
func (r *Router) AddLink(a, b protocol.NodeID, cost float64) {
    r.mu.Lock(); defer r.mu.Unlock()
    r.setEdge(a, b, cost)
    r.setEdge(b, a, cost)
}

func (r *Router) setEdge(from, to protocol.NodeID, cost float64) {
    if r.links[from] == nil { r.links[from] = make(map[protocol.NodeID]float64) }
    r.links[from][to] = cost
}

func (r *Router) RemoveLink(a, b protocol.NodeID) {
    r.mu.Lock(); defer r.mu.Unlock()
    delete(r.links[a], b)
    delete(r.links[b], a)
}

// NextHop returns the neighbor to forward toward dest: a direct session
// first, then a pinned route, then the shortest path over known links.
func (r *Router) NextHop(dest protocol.NodeID) (protocol.NodeID, bool) {
    if dest == r.local { return "", false }
    if r.mgr.GetSession(dest) != nil { return dest, true }
    r.mu.RLock()
    via, pinned := r.routes[dest]
    r.mu.RUnlock()
    if pinned && r.mgr.GetSession(via) != nil {
        r.log.Debug("route via pin", zap.String("dest", string(dest)), zap.String("next_hop", string(via)))
        return via, true
    }
    path := r.findPath(r.local, dest)
    if len(path) >= 2 && r.mgr.GetSession(path[1]) != nil {
        r.log.Debug("route via dijkstra", zap.String("dest", string(dest)), zap.Any("path", path))
        return path[1], true
    }
    return "", false
}

func (r *Router) edgeWeight(from, to protocol.NodeID, stored float64) float64 {
    if from == r.local {
        if s := r.mgr.GetSession(to); s != nil {
            q := s.Quality()
            rtt := float64(q.RTT) / float64(time.Millisecond)
            return linkBaseCost(s.TransportKind()) + rtt/10.0 + float64(q.LossRatio)*50.0
        }
    }
    if stored > 0 { return stored }
    return 100.0
}

func linkBaseCost(k transport.Kind) float64 {
    switch k {
    case transport.KindMem:
        return 0.5
    case transport.KindQUICDirect:
        return 1.0
    default:
        return 10.0
    }
}

func (r *Router) findPath(src, dst protocol.NodeID) []protocol.NodeID {
    r.mu.RLock()
    adj := make(map[protocol.NodeID]map[protocol.NodeID]float64, len(r.links))
    for from, tos := range r.links {
        m := make(map[protocol.NodeID]float64, len(tos))
        for to, w := range tos { m[to] = w }
        adj[from] = m
    }
    r.mu.RUnlock()

    dist := map[protocol.NodeID]float64{src: 0}
    prev := map[protocol.NodeID]protocol.NodeID{}
    visited := map[protocol.NodeID]bool{}
    pq := &nodePQ{}
    heap.Push(pq, nodeItem{id: src})
    for pq.Len() > 0 {
        cur := heap.Pop(pq).(nodeItem)
        if visited[cur.id] { continue }
        visited[cur.id] = true
        if cur.id == dst { break }
        for nb, w := range adj[cur.id] {
            nd := dist[cur.id] + r.edgeWeight(cur.id, nb, w)
            if old, ok := dist[nb]; !ok || nd < old {
                dist[nb] = nd
                prev[nb] = cur.id
                heap.Push(pq, nodeItem{id: nb, prio: nd})
            }
        }
    }
    if _, ok := dist[dst]; !ok { return nil }
    var rev []protocol.NodeID
    for at := dst; ; at = prev[at] {
        rev = append(rev, at)
        if at == src { break }
    }
    path := make([]protocol.NodeID, len(rev))
    for i := range rev { path[i] = rev[len(rev)-1-i] }
    return path
}

type nodeItem struct { id protocol.NodeID; prio float64 }
type nodePQ []nodeItem
func (p nodePQ) Len() int { return len(p) }
func (p nodePQ) Less(i, j int) bool { return p[i].prio < p[j].prio }
func (p nodePQ) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p *nodePQ) Push(x any) { *p = append(*p, x.(nodeItem)) }
func (p *nodePQ) Pop() any { old := *p; n := len(old); x := old[n-1]; *p = old[:n-1]; return x }
