package transport

import (
    "fmt"
    "net"
)

// MutablePeer is an optional interface that Sessions can implement to allow
// updating the peer identity once the remote node announced itself.
type MutablePeer interface {
    SetPeer(PeerInfo)
}

// TempNodeID builds a placeholder id from transport kind and remote address.
// It is used for inbound sessions until the first stream header names the peer.
func TempNodeID(kind Kind, addr net.Addr) NodeID {
    if addr == nil { return NodeID(fmt.Sprintf("temp:%s:unknown", kind)) }
    return NodeID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// IsTemp reports whether id was produced by TempNodeID.
func IsTemp(id NodeID) bool {
    return len(id) >= 5 && id[:5] == "temp:"
}
