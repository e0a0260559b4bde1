// internal/protocol/action.go
package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"eightsync/internal/deck"
)

// ActionType discriminates the player-intent variants.
type ActionType string

const (
	ActionPlayCard     ActionType = "play_card"
	ActionDrawCard     ActionType = "draw_card"
	ActionPassTurn     ActionType = "pass_turn"
	ActionDeclareColor ActionType = "declare_color"
)

// Action is a tagged variant over the four player intents. The engine
// matches on Type exhaustively; unknown types are rejected, never ignored.
type Action struct {
	Type ActionType `json:"type"`

	// Card is the card being played (play_card only).
	Card *deck.Card `json:"card,omitempty"`

	// Color carries the declared wild color: required for declare_color,
	// optional on play_card of a wild to fold the declaration into the play.
	Color *deck.Color `json:"color,omitempty"`

	// Replenish is the encoded order of the rebuilt deck, attached to a
	// draw_card by the acting peer when the draw will exhaust the deck. The
	// actor performs the shuffle once and every other peer loads the
	// broadcast order instead of replaying an RNG.
	Replenish []byte `json:"replenish,omitempty"`
}

// PlayCard builds a play_card action.
func PlayCard(c deck.Card) Action {
	return Action{Type: ActionPlayCard, Card: &c}
}

// PlayWild builds a play_card action with the color declaration folded in.
func PlayWild(c deck.Card, color deck.Color) Action {
	return Action{Type: ActionPlayCard, Card: &c, Color: &color}
}

// DrawCard builds a draw_card action.
func DrawCard() Action {
	return Action{Type: ActionDrawCard}
}

// PassTurn builds a pass_turn action.
func PassTurn() Action {
	return Action{Type: ActionPassTurn}
}

// DeclareColor builds a declare_color action.
func DeclareColor(color deck.Color) Action {
	return Action{Type: ActionDeclareColor, Color: &color}
}

func (a Action) String() string {
	switch a.Type {
	case ActionPlayCard:
		if a.Color != nil {
			return fmt.Sprintf("play %v as %v", a.Card, *a.Color)
		}
		return fmt.Sprintf("play %v", a.Card)
	case ActionDeclareColor:
		return fmt.Sprintf("declare %v", *a.Color)
	default:
		return string(a.Type)
	}
}

// Envelope stamps an action with its position in the applied-action order
// and the peer that produced it. Seq is assigned by the author as local
// sequence number + 1; every peer applies envelopes in strict Seq order.
type Envelope struct {
	Seq    uint64    `json:"seq"`
	Author uuid.UUID `json:"author"`
	Action Action    `json:"action"`
}

// Reason codes attached to IllegalAction rejections. These stay on the
// local peer: only validated actions ever cross the network.
type Reason string

const (
	ReasonNotYourTurn   Reason = "not_your_turn"
	ReasonCardNotInHand Reason = "card_not_in_hand"
	ReasonCardMismatch  Reason = "card_mismatch"
	ReasonPendingDraw   Reason = "pending_draw"
	ReasonWrongPhase    Reason = "wrong_phase"
	ReasonBadColor      Reason = "bad_color"
	ReasonNothingToPass Reason = "nothing_to_pass"
	ReasonAlreadyDrew   Reason = "already_drew"
	ReasonGameOver      Reason = "game_over"
	ReasonBadAction     Reason = "bad_action"
	ReasonBadReplenish  Reason = "bad_replenish"
)
