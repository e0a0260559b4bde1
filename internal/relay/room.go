// internal/relay/room.go
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eightsync/internal/transport"
)

const writeTimeout = 3 * time.Second

// member is one connected peer in a room.
type member struct {
	id   uuid.UUID
	conn *websocket.Conn

	// writeMu serializes writes; coder/websocket allows one writer at a time.
	writeMu sync.Mutex
}

func (m *member) write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return m.conn.Write(ctx, websocket.MessageText, data)
}

// Room is one rendezvous group. The relay never inspects the payloads it
// forwards; a room is purely a membership set.
type Room struct {
	ID           uuid.UUID
	PasscodeHash string
	CreatedAt    time.Time

	mu      sync.Mutex
	members map[uuid.UUID]*member
}

// roster returns the member ids, excluding the given peer.
func (r *Room) roster(except uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.members))
	for id := range r.members {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// attach registers a connection under a peer id. A second connection for the
// same peer id bumps the first, which covers reconnects.
func (r *Room) attach(id uuid.UUID, conn *websocket.Conn) *member {
	r.mu.Lock()
	prev := r.members[id]
	m := &member{id: id, conn: conn}
	r.members[id] = m
	r.mu.Unlock()
	if prev != nil {
		prev.conn.Close(websocket.StatusPolicyViolation, "superseded by a new connection")
	}
	return m
}

// detach removes a member, but only if it still owns the slot.
func (r *Room) detach(m *member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[m.id] != m {
		return false
	}
	delete(r.members, m.id)
	return true
}

func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// forward sends an encoded frame to one member or, when to is nil, to every
// member except the sender.
func (r *Room) forward(log *logrus.Entry, from uuid.UUID, to *uuid.UUID, data []byte) {
	r.mu.Lock()
	var targets []*member
	if to != nil {
		if m, ok := r.members[*to]; ok {
			targets = []*member{m}
		}
	} else {
		targets = make([]*member, 0, len(r.members))
		for id, m := range r.members {
			if id != from {
				targets = append(targets, m)
			}
		}
	}
	r.mu.Unlock()

	for _, m := range targets {
		if err := m.write(data); err != nil {
			log.WithError(err).WithField("peer", m.id).Warn("forward failed")
		}
	}
}

// announce encodes a membership frame and fans it out to everyone but the
// subject peer.
func (r *Room) announce(log *logrus.Entry, ft transport.FrameType, peer uuid.UUID) {
	data, err := transport.EncodeFrame(transport.Frame{Type: ft, From: peer})
	if err != nil {
		log.WithError(err).Error("encode membership frame")
		return
	}
	r.forward(log, peer, nil, data)
}

// RoomStore holds the live rooms.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

// NewRoomStore returns an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[uuid.UUID]*Room)}
}

// Create makes a room, hashing the passcode when one is given.
func (s *RoomStore) Create(passcode string) (*Room, error) {
	var hash string
	if passcode != "" {
		var err error
		hash, err = HashPasscode(passcode)
		if err != nil {
			return nil, fmt.Errorf("hash passcode: %w", err)
		}
	}
	room := &Room{
		ID:           uuid.New(),
		PasscodeHash: hash,
		CreatedAt:    time.Now(),
		members:      make(map[uuid.UUID]*member),
	}
	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	return room, nil
}

// Get looks a room up by id.
func (s *RoomStore) Get(id uuid.UUID) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

// Reap deletes rooms that have been empty longer than maxIdle since
// creation. Called periodically by the server.
func (s *RoomStore) Reap(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, room := range s.rooms {
		if room.empty() && room.CreatedAt.Before(cutoff) {
			delete(s.rooms, id)
			n++
		}
	}
	return n
}
