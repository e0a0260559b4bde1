// internal/game/state.go
package game

import (
	"fmt"

	"github.com/google/uuid"

	"eightsync/internal/deck"
)

// Phase is the turn state machine's position.
type Phase uint8

const (
	// PhaseAwaitingPlay accepts PlayCard, DrawCard and PassTurn from the
	// current player.
	PhaseAwaitingPlay Phase = iota
	// PhaseAwaitingColor blocks every action except DeclareColor from the
	// player who just played a wild.
	PhaseAwaitingColor
	// PhaseGameOver is terminal.
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPlay:
		return "awaiting_play"
	case PhaseAwaitingColor:
		return "awaiting_color"
	case PhaseGameOver:
		return "game_over"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Player is one seat at the table: a peer identity, its position in the turn
// order (its index in State.Players), and the hand it owns. Only the local
// player's hand is ever populated from the network's point of view; remote
// hands are still tracked in full here because every peer replays every deal
// and draw, which is what makes the digests comparable.
type Player struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Hand []deck.Card
}

// RemoveCard deletes the first card equal to c from the hand, reporting
// whether it was present.
func (p *Player) RemoveCard(c deck.Card) bool {
	for i, have := range p.Hand {
		if have == c {
			p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
			return true
		}
	}
	return false
}

// HasCard reports whether the hand contains c.
func (p *Player) HasCard(c deck.Card) bool {
	for _, have := range p.Hand {
		if have == c {
			return true
		}
	}
	return false
}

// State is one peer's authoritative snapshot of the match. It is owned by a
// single goroutine and mutated only through the engine's apply step; there is
// no internal locking because there is no concurrent writer.
type State struct {
	MatchID uuid.UUID
	Players []*Player

	Deck    *deck.Deck
	Discard []deck.Card

	Current   int // index into Players
	Direction int // +1 or -1

	// PendingDraw accumulates forced draws from stacked penalty cards. The
	// next player either stacks another penalty card or draws the whole
	// amount at once.
	PendingDraw int

	// LockedColor is the color declared for the wild currently on top of the
	// discard pile. deck.Wild means no declaration is in effect.
	LockedColor deck.Color

	// DrewThisTurn marks that the current player already took their
	// voluntary draw, for tables where drawing keeps the turn.
	DrewThisTurn bool

	Phase  Phase
	Winner uuid.UUID

	// Seq counts applied actions since game start. It is the logical clock
	// of the sync protocol: identical on every peer after each apply.
	Seq uint64
}

// NewState builds the initial state for the given seating order and deck.
// Hands are dealt by the engine, not here.
func NewState(matchID uuid.UUID, players []*Player, d *deck.Deck) *State {
	return &State{
		MatchID:     matchID,
		Players:     players,
		Deck:        d,
		Direction:   1,
		LockedColor: deck.Wild,
		Phase:       PhaseAwaitingPlay,
	}
}

// CurrentPlayer returns the player whose turn it is.
func (s *State) CurrentPlayer() *Player {
	return s.Players[s.Current]
}

// PlayerByID returns the player with the given id, or nil.
func (s *State) PlayerByID(id uuid.UUID) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// TopDiscard returns the top of the discard pile. ok is false only before
// the first card is flipped.
func (s *State) TopDiscard() (deck.Card, bool) {
	if len(s.Discard) == 0 {
		return deck.Card{}, false
	}
	return s.Discard[len(s.Discard)-1], true
}

// ActiveColor returns the color legality checks run against: the locked
// color when the top card is an already-declared wild, the top card's own
// color otherwise. ok is false while a wild sits undeclared on top.
func (s *State) ActiveColor() (deck.Color, bool) {
	top, ok := s.TopDiscard()
	if !ok {
		return 0, false
	}
	if top.IsWild() {
		if s.LockedColor == deck.Wild {
			return 0, false
		}
		return s.LockedColor, true
	}
	return top.Color, true
}

// Advance moves the current player index by steps seats in the current
// direction, wrapping around the table.
func (s *State) Advance(steps int) {
	n := len(s.Players)
	s.Current = ((s.Current+s.Direction*steps)%n + n) % n
}

// CardCount returns the total number of cards across deck, discard and all
// hands. The conservation invariant pins this at the full deck size for the
// whole match.
func (s *State) CardCount() int {
	total := s.Deck.Len() + len(s.Discard)
	for _, p := range s.Players {
		total += len(p.Hand)
	}
	return total
}

// AllCards returns the multiset of every card in play, for conservation
// checks in tests.
func (s *State) AllCards() map[deck.Card]int {
	all := map[deck.Card]int{}
	for _, c := range s.Deck.Cards() {
		all[c]++
	}
	for _, c := range s.Discard {
		all[c]++
	}
	for _, p := range s.Players {
		for _, c := range p.Hand {
			all[c]++
		}
	}
	return all
}
