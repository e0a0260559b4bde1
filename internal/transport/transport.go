// internal/transport/transport.go
//
// The peer channel abstraction the sync layer runs over. The transport owes
// the protocol exactly one guarantee: frames from a given sender arrive in
// the order they were sent. Everything else (gaps, duplicates across
// senders, timing) is the sync layer's problem.
package transport

import (
	"github.com/google/uuid"
)

// EventKind discriminates channel events.
type EventKind int

const (
	// EventData is an application frame from a peer.
	EventData EventKind = iota
	// EventPeerJoined announces a new peer in the room.
	EventPeerJoined
	// EventPeerLeft announces a departed peer.
	EventPeerLeft
	// EventClosed is the final event before the channel dies.
	EventClosed
)

// Event is one occurrence on the peer channel.
type Event struct {
	Kind EventKind
	Peer uuid.UUID
	Data []byte
	Err  error
}

// PeerChannel is a bidirectional message channel to a set of connected
// peers. Implementations must deliver frames from one sender in order and
// must never block the Events channel producer on a slow consumer for
// longer than their internal buffer allows.
type PeerChannel interface {
	// Self is the local peer id assigned by the rendezvous layer.
	Self() uuid.UUID
	// Peers lists the currently connected remote peers.
	Peers() []uuid.UUID
	// Send delivers data to a single peer.
	Send(peer uuid.UUID, data []byte) error
	// Broadcast delivers data to every connected peer.
	Broadcast(data []byte) error
	// Events yields incoming frames and membership changes. The channel is
	// closed after an EventClosed is delivered.
	Events() <-chan Event
	// Close tears the channel down.
	Close() error
}
