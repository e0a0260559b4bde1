// internal/lobby/lobby.go
//
// The pre-game lobby: peers exchange display names over the peer channel,
// and the host eventually broadcasts the start payload that every peer deals
// from. The lobby is as serverless as the game; "host" just means whoever
// pressed start first.
package lobby

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eightsync/internal/engine"
	"eightsync/internal/protocol"
	"eightsync/internal/transport"
)

// Lobby tracks the roster and names seen on a peer channel before a match.
type Lobby struct {
	ch   transport.PeerChannel
	name string
	log  *logrus.Entry

	names map[uuid.UUID]string

	// lastOrder remembers the seating of the previous match so a rematch can
	// rotate the opening player.
	lastOrder []uuid.UUID
}

// New wraps a peer channel with the local display name.
func New(ch transport.PeerChannel, name string, log *logrus.Entry) *Lobby {
	l := &Lobby{
		ch:    ch,
		name:  name,
		log:   log.WithField("self", ch.Self()),
		names: map[uuid.UUID]string{ch.Self(): name},
	}
	return l
}

// Announce broadcasts the local name. Call once after connecting; joins of
// later peers are answered automatically by HandleEvent.
func (l *Lobby) Announce() error {
	data, err := protocol.EncodeMessage(protocol.Message{
		Type:  protocol.MsgHello,
		Hello: &protocol.Hello{Name: l.name},
	})
	if err != nil {
		return err
	}
	return l.ch.Broadcast(data)
}

// HandleEvent feeds one channel event into the lobby. When a start payload
// arrives the lobby's job is done and the payload is returned; everything
// else returns nil.
func (l *Lobby) HandleEvent(ev transport.Event) (*protocol.Start, error) {
	switch ev.Kind {
	case transport.EventPeerJoined:
		l.log.WithField("peer", ev.Peer).Info("peer joined lobby")
		// Greet the newcomer directly so it learns our name.
		data, err := protocol.EncodeMessage(protocol.Message{
			Type:  protocol.MsgHello,
			Hello: &protocol.Hello{Name: l.name},
		})
		if err != nil {
			return nil, err
		}
		return nil, l.ch.Send(ev.Peer, data)
	case transport.EventPeerLeft:
		l.log.WithField("peer", ev.Peer).Info("peer left lobby")
		delete(l.names, ev.Peer)
		return nil, nil
	case transport.EventClosed:
		if ev.Err != nil {
			return nil, fmt.Errorf("lobby channel closed: %w", ev.Err)
		}
		return nil, fmt.Errorf("lobby channel closed")
	case transport.EventData:
		m, err := protocol.DecodeMessage(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("from %s: %w", ev.Peer, err)
		}
		switch m.Type {
		case protocol.MsgHello:
			l.names[ev.Peer] = m.Hello.Name
			l.log.WithFields(logrus.Fields{"peer": ev.Peer, "name": m.Hello.Name}).Info("hello")
			return nil, nil
		case protocol.MsgStart:
			l.lastOrder = m.Start.Order
			return m.Start, nil
		default:
			// Game traffic racing ahead of the start message; the session
			// will re-request anything it needs once it exists.
			l.log.WithField("type", m.Type).Debug("ignoring game message in lobby")
			return nil, nil
		}
	}
	return nil, nil
}

// Roster returns the known peers (self included) in the deterministic order
// the host would seat them: sorted by id.
func (l *Lobby) Roster() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(l.names)+1)
	ids = append(ids, l.ch.Self())
	for _, p := range l.ch.Peers() {
		ids = append(ids, p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Names returns the display names gathered so far.
func (l *Lobby) Names() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(l.names))
	for id, name := range l.names {
		out[id] = name
	}
	return out
}

// Start makes this peer the host: it packs a start payload over the current
// roster and the host's table rules, broadcasts it, and returns it for local
// setup. Joining peers adopt the rules from the payload.
func (l *Lobby) Start(rules engine.Rules, seed int64) (protocol.Start, error) {
	order := l.Roster()
	if len(order) < 2 {
		return protocol.Start{}, fmt.Errorf("lobby: need at least 2 players, have %d", len(order))
	}
	start := engine.NewStartPayload(uuid.New(), order, l.Names(), rules, seed, false)
	if err := l.broadcastStart(start); err != nil {
		return protocol.Start{}, err
	}
	l.lastOrder = start.Order
	return start, nil
}

// Rematch starts another match over the previous seating rotated left by
// one, so the opening player shifts each game.
func (l *Lobby) Rematch(rules engine.Rules, seed int64) (protocol.Start, error) {
	if len(l.lastOrder) < 2 {
		return protocol.Start{}, fmt.Errorf("lobby: no previous match to rematch")
	}
	order := append(append([]uuid.UUID(nil), l.lastOrder[1:]...), l.lastOrder[0])
	start := engine.NewStartPayload(uuid.New(), order, l.Names(), rules, seed, true)
	if err := l.broadcastStart(start); err != nil {
		return protocol.Start{}, err
	}
	l.lastOrder = start.Order
	return start, nil
}

func (l *Lobby) broadcastStart(start protocol.Start) error {
	data, err := protocol.EncodeMessage(protocol.Message{Type: protocol.MsgStart, Start: &start})
	if err != nil {
		return err
	}
	return l.ch.Broadcast(data)
}
