// internal/transport/loopback.go
package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Loopback is an in-memory PeerChannel hub. Every endpoint created from the
// same hub is wired to every other; delivery is synchronous per sender, so
// the in-order guarantee holds trivially. Used by tests and local games.
type Loopback struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]*LoopbackEndpoint
}

// NewLoopback creates an empty hub.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[uuid.UUID]*LoopbackEndpoint)}
}

// Endpoint attaches a new peer to the hub and announces it to the others.
func (l *Loopback) Endpoint() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{
		hub:    l,
		self:   uuid.New(),
		events: make(chan Event, 1024),
	}
	l.mu.Lock()
	for _, other := range l.endpoints {
		other.events <- Event{Kind: EventPeerJoined, Peer: ep.self}
	}
	l.endpoints[ep.self] = ep
	l.mu.Unlock()
	return ep
}

// LoopbackEndpoint is one peer's view of the hub.
type LoopbackEndpoint struct {
	hub    *Loopback
	self   uuid.UUID
	events chan Event

	mu     sync.Mutex
	closed bool

	// Drop, when set, is consulted before each delivery; returning true
	// silently discards the frame. Tests use it to fabricate gaps.
	Drop func(to uuid.UUID, data []byte) bool
}

func (ep *LoopbackEndpoint) Self() uuid.UUID { return ep.self }

func (ep *LoopbackEndpoint) Peers() []uuid.UUID {
	ep.hub.mu.Lock()
	defer ep.hub.mu.Unlock()
	out := make([]uuid.UUID, 0, len(ep.hub.endpoints)-1)
	for id := range ep.hub.endpoints {
		if id != ep.self {
			out = append(out, id)
		}
	}
	return out
}

func (ep *LoopbackEndpoint) Send(peer uuid.UUID, data []byte) error {
	if ep.Drop != nil && ep.Drop(peer, data) {
		return nil
	}
	ep.hub.mu.Lock()
	target, ok := ep.hub.endpoints[peer]
	ep.hub.mu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: no such peer %s", peer)
	}
	target.events <- Event{Kind: EventData, Peer: ep.self, Data: data}
	return nil
}

func (ep *LoopbackEndpoint) Broadcast(data []byte) error {
	ep.hub.mu.Lock()
	targets := make([]*LoopbackEndpoint, 0, len(ep.hub.endpoints))
	for id, other := range ep.hub.endpoints {
		if id != ep.self {
			targets = append(targets, other)
		}
	}
	ep.hub.mu.Unlock()
	for _, t := range targets {
		if ep.Drop != nil && ep.Drop(t.self, data) {
			continue
		}
		t.events <- Event{Kind: EventData, Peer: ep.self, Data: data}
	}
	return nil
}

func (ep *LoopbackEndpoint) Events() <-chan Event { return ep.events }

func (ep *LoopbackEndpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	ep.mu.Unlock()

	ep.hub.mu.Lock()
	delete(ep.hub.endpoints, ep.self)
	for _, other := range ep.hub.endpoints {
		other.events <- Event{Kind: EventPeerLeft, Peer: ep.self}
	}
	ep.hub.mu.Unlock()

	ep.events <- Event{Kind: EventClosed}
	close(ep.events)
	return nil
}
