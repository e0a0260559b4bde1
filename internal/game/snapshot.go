// internal/game/snapshot.go
package game

import (
	"github.com/google/uuid"

	"eightsync/internal/deck"
)

// SnapshotPlayer is one seat as seen by a particular viewer: always the hand
// count, the cards themselves only for the viewer's own seat.
type SnapshotPlayer struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	HandSize      int         `json:"hand_size"`
	IsCurrentTurn bool        `json:"is_current_turn"`
	Hand          []deck.Card `json:"hand,omitempty"`
}

// Snapshot is the publicly visible slice of the state, generated per viewer.
// The UI layer renders from this; it never touches State directly.
type Snapshot struct {
	MatchID         uuid.UUID        `json:"match_id"`
	Phase           string           `json:"phase"`
	CurrentPlayerID uuid.UUID        `json:"current_player_id"`
	Direction       int              `json:"direction"`
	DeckSize        int              `json:"deck_size"`
	DiscardSize     int              `json:"discard_size"`
	DiscardTop      *deck.Card       `json:"discard_top,omitempty"`
	ActiveColor     string           `json:"active_color,omitempty"`
	PendingDraw     int              `json:"pending_draw,omitempty"`
	Players         []SnapshotPlayer `json:"players"`
	Winner          uuid.UUID        `json:"winner,omitempty"`
	Seq             uint64           `json:"seq"`
}

// SnapshotFor generates the viewer-specific snapshot: full hand for the
// viewer, counts for everyone else.
func (s *State) SnapshotFor(viewer uuid.UUID) Snapshot {
	snap := Snapshot{
		MatchID:         s.MatchID,
		Phase:           s.Phase.String(),
		CurrentPlayerID: s.CurrentPlayer().ID,
		Direction:       s.Direction,
		DeckSize:        s.Deck.Len(),
		DiscardSize:     len(s.Discard),
		PendingDraw:     s.PendingDraw,
		Winner:          s.Winner,
		Seq:             s.Seq,
	}
	if top, ok := s.TopDiscard(); ok {
		snap.DiscardTop = &top
	}
	if color, ok := s.ActiveColor(); ok {
		snap.ActiveColor = color.String()
	}
	for i, p := range s.Players {
		sp := SnapshotPlayer{
			ID:            p.ID,
			Name:          p.Name,
			HandSize:      len(p.Hand),
			IsCurrentTurn: i == s.Current,
		}
		if p.ID == viewer {
			sp.Hand = make([]deck.Card, len(p.Hand))
			copy(sp.Hand, p.Hand)
		}
		snap.Players = append(snap.Players, sp)
	}
	return snap
}
