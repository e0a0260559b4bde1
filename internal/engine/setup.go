// internal/engine/setup.go
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"eightsync/internal/deck"
	"eightsync/internal/game"
	"eightsync/internal/protocol"
)

// SetupMatch builds the initial state from a start payload: seats in the
// host's order, identical hands dealt from the broadcast deck, and the first
// discard flipped. Every peer runs this over the same payload and lands on
// the same state at sequence zero. The engine adopts the payload's table
// rules over its own: a peer whose flags disagree with the host's would
// otherwise replay the same log into a different state.
func (e *Engine) SetupMatch(start protocol.Start) (*game.State, error) {
	if len(start.Order) < 2 {
		return nil, fmt.Errorf("setup: need at least 2 players, got %d", len(start.Order))
	}
	handSize := start.HandSize
	if handSize <= 0 {
		handSize = e.Rules.HandSize
	}
	e.Rules = Rules{
		HandSize:     handSize,
		DrawThenPlay: start.DrawThenPlay,
		StackDraws:   start.StackDraws,
	}

	d, err := deck.DecodeDeck(start.Deck)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if need := len(start.Order)*handSize + 1; d.Len() < need {
		return nil, fmt.Errorf("setup: deck of %d cannot deal %d", d.Len(), need)
	}

	players := make([]*game.Player, len(start.Order))
	seen := map[uuid.UUID]bool{}
	for i, id := range start.Order {
		if seen[id] {
			return nil, fmt.Errorf("setup: duplicate player %s in order", id)
		}
		seen[id] = true
		players[i] = &game.Player{ID: id, Name: start.Names[id]}
	}

	s := game.NewState(start.MatchID, players, d)

	for _, p := range s.Players {
		p.Hand = make([]deck.Card, 0, handSize)
		for i := 0; i < handSize; i++ {
			c, err := s.Deck.Draw()
			if err != nil {
				return nil, fmt.Errorf("setup deal: %w", err)
			}
			p.Hand = append(p.Hand, c)
		}
	}

	// Flip the first discard. A wild flip is buried in the pile and the
	// next card flipped on top, so play never opens on an undeclared wild.
	for {
		c, err := s.Deck.Draw()
		if err != nil {
			return nil, fmt.Errorf("setup flip: %w", err)
		}
		s.Discard = append(s.Discard, c)
		if !c.IsWild() {
			break
		}
	}

	return s, nil
}

// NewStartPayload is the host-side counterpart of SetupMatch: it shuffles a
// standard deck with the given seed and packs the start message broadcast to
// every peer, table rules included.
func NewStartPayload(matchID uuid.UUID, order []uuid.UUID, names map[uuid.UUID]string, rules Rules, seed int64, rematch bool) protocol.Start {
	d := deck.NewStandardDeck()
	d.Shuffle(seed)
	return protocol.Start{
		MatchID:      matchID,
		Order:        order,
		Names:        names,
		Deck:         d.Encode(),
		HandSize:     rules.HandSize,
		DrawThenPlay: rules.DrawThenPlay,
		StackDraws:   rules.StackDraws,
		Rematch:      rematch,
	}
}
