// Package transport defines the canonical transport interfaces for ttxfer and
// a session manager that enforces a single canonical session per peer.
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind (QUIC, in-process)
// - Session: a connection to a peer carrying many independent streams
// - Stream: an ordered sequence of length-delimited records
// - Manager: deduplicates concurrent inbound/outbound links and selects a
//   canonical session per peer based on link kind and quality
package transport
