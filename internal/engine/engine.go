// internal/engine/engine.go
//
// The turn state machine. Validate never mutates; Apply is the single
// serialized mutation path for a peer's game state. Every peer runs the same
// Apply over the same ordered actions, which is the whole convergence story.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"eightsync/internal/deck"
	"eightsync/internal/game"
	"eightsync/internal/protocol"
)

// Rules are table-level options agreed before the deal, in the spirit of
// house rules. The zero value is not useful; start from DefaultRules.
type Rules struct {
	// HandSize is the number of cards dealt to each player.
	HandSize int `json:"hand_size"`
	// DrawThenPlay keeps the turn with a player after a voluntary draw, so
	// they may play the drawn card or pass. When false a draw ends the turn
	// immediately and PassTurn is never legal.
	DrawThenPlay bool `json:"draw_then_play"`
	// StackDraws lets a player answer a draw-two with another draw-two,
	// accumulating the penalty for whoever finally draws.
	StackDraws bool `json:"stack_draws"`
}

// DefaultRules returns the standard table: seven cards, stacking on,
// draw ends the turn.
func DefaultRules() Rules {
	return Rules{HandSize: 7, StackDraws: true}
}

// IllegalActionError reports a validation rejection. It never leaves the
// local peer and never accompanies a state change.
type IllegalActionError struct {
	Reason protocol.Reason
	Detail string
}

func (e *IllegalActionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("illegal action: %s", e.Reason)
	}
	return fmt.Sprintf("illegal action: %s (%s)", e.Reason, e.Detail)
}

func illegal(reason protocol.Reason, format string, args ...interface{}) error {
	return &IllegalActionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Result describes what an applied action did, for the UI and the history
// recorder. The state itself is the source of truth; Result only surfaces
// the parts that are awkward to diff.
type Result struct {
	// Drawn lists cards moved into the actor's hand by a draw.
	Drawn []deck.Card
	// Replenished is set when the draw rebuilt the deck from the discard pile.
	Replenished bool
	// GameOver and Winner are set when the action emptied the actor's hand.
	GameOver bool
	Winner   uuid.UUID
}

// Engine applies actions to a game state under a fixed rule set.
type Engine struct {
	Rules Rules
}

// New returns an engine with the given rules.
func New(rules Rules) *Engine {
	return &Engine{Rules: rules}
}

// Validate checks an action against the state without mutating anything.
// A nil return means Apply with the same arguments will succeed, barring a
// deck exhaustion fault.
func (e *Engine) Validate(s *game.State, author uuid.UUID, a protocol.Action) error {
	if s.Phase == game.PhaseGameOver {
		return illegal(protocol.ReasonGameOver, "match is over")
	}
	actor := s.PlayerByID(author)
	if actor == nil {
		return illegal(protocol.ReasonNotYourTurn, "unknown player %s", author)
	}
	if s.CurrentPlayer().ID != author {
		return illegal(protocol.ReasonNotYourTurn, "current player is %s", s.CurrentPlayer().ID)
	}

	switch a.Type {
	case protocol.ActionPlayCard:
		return e.validatePlay(s, actor, a)
	case protocol.ActionDrawCard:
		return e.validateDraw(s, a)
	case protocol.ActionPassTurn:
		if s.Phase != game.PhaseAwaitingPlay {
			return illegal(protocol.ReasonWrongPhase, "cannot pass in %s", s.Phase)
		}
		if !e.Rules.DrawThenPlay || !s.DrewThisTurn {
			return illegal(protocol.ReasonNothingToPass, "pass is only legal after drawing with nothing to play")
		}
		return nil
	case protocol.ActionDeclareColor:
		if s.Phase != game.PhaseAwaitingColor {
			return illegal(protocol.ReasonWrongPhase, "no wild awaiting a color")
		}
		if a.Color == nil || *a.Color == deck.Wild || !a.Color.Valid() {
			return illegal(protocol.ReasonBadColor, "declared color must be one of the four base colors")
		}
		return nil
	default:
		return illegal(protocol.ReasonBadAction, "unknown action type %q", a.Type)
	}
}

func (e *Engine) validatePlay(s *game.State, actor *game.Player, a protocol.Action) error {
	if s.Phase != game.PhaseAwaitingPlay {
		return illegal(protocol.ReasonWrongPhase, "a wild color declaration is pending")
	}
	if a.Card == nil {
		return illegal(protocol.ReasonBadAction, "play_card without a card")
	}
	card := *a.Card
	if !actor.HasCard(card) {
		return illegal(protocol.ReasonCardNotInHand, "%v is not in hand", card)
	}
	if s.PendingDraw > 0 && card.DrawPenalty() == 0 {
		return illegal(protocol.ReasonPendingDraw, "%d cards pending, play a penalty card or draw", s.PendingDraw)
	}
	if s.PendingDraw > 0 && !e.Rules.StackDraws {
		return illegal(protocol.ReasonPendingDraw, "stacking is disabled, draw %d", s.PendingDraw)
	}
	if !card.IsWild() {
		active, ok := s.ActiveColor()
		top, _ := s.TopDiscard()
		if !ok || !card.Playable(active, top) {
			return illegal(protocol.ReasonCardMismatch, "%v does not match %v", card, top)
		}
		if a.Color != nil {
			return illegal(protocol.ReasonBadColor, "only wilds carry a color declaration")
		}
	} else if a.Color != nil && (*a.Color == deck.Wild || !a.Color.Valid()) {
		return illegal(protocol.ReasonBadColor, "declared color must be one of the four base colors")
	}
	return nil
}

func (e *Engine) validateDraw(s *game.State, a protocol.Action) error {
	if s.Phase != game.PhaseAwaitingPlay {
		return illegal(protocol.ReasonWrongPhase, "a wild color declaration is pending")
	}
	if s.DrewThisTurn && s.PendingDraw == 0 {
		return illegal(protocol.ReasonAlreadyDrew, "already drew this turn")
	}
	need := drawCount(s)
	available := s.Deck.Len()
	if len(s.Discard) > 1 {
		available += len(s.Discard) - 1
	}
	if need > available {
		// Not an illegal action: the table itself is out of cards.
		return deck.ErrExhausted
	}
	if need > s.Deck.Len() {
		// The deck will run dry mid-draw: the action must carry the
		// replenished order so every peer rebuilds the same pile.
		if len(a.Replenish) == 0 {
			return illegal(protocol.ReasonBadReplenish, "draw exhausts the deck but carries no replenish order")
		}
		if err := checkReplenish(s, a.Replenish); err != nil {
			return err
		}
	}
	return nil
}

// checkReplenish verifies a broadcast replenish order is a permutation of
// the discard pile minus its top card.
func checkReplenish(s *game.State, order []byte) error {
	rebuilt, err := deck.DecodeDeck(order)
	if err != nil {
		return illegal(protocol.ReasonBadReplenish, "%v", err)
	}
	if rebuilt.Len() != len(s.Discard)-1 {
		return illegal(protocol.ReasonBadReplenish, "order has %d cards, expected %d", rebuilt.Len(), len(s.Discard)-1)
	}
	want := map[deck.Card]int{}
	for _, c := range s.Discard[:len(s.Discard)-1] {
		want[c]++
	}
	for _, c := range rebuilt.Cards() {
		want[c]--
		if want[c] < 0 {
			return illegal(protocol.ReasonBadReplenish, "order contains %v which is not in the discard pile", c)
		}
	}
	return nil
}

// drawCount returns how many cards the current player draws: the whole
// accumulated penalty, or a single card when none is pending.
func drawCount(s *game.State) int {
	if s.PendingDraw > 0 {
		return s.PendingDraw
	}
	return 1
}

// Apply validates and applies an action, advancing the sequence number by
// exactly one on success. On any error the state is untouched.
func (e *Engine) Apply(s *game.State, author uuid.UUID, a protocol.Action) (Result, error) {
	if err := e.Validate(s, author, a); err != nil {
		return Result{}, err
	}

	var res Result
	switch a.Type {
	case protocol.ActionPlayCard:
		res = e.applyPlay(s, author, a)
	case protocol.ActionDrawCard:
		var err error
		res, err = e.applyDraw(s, a)
		if err != nil {
			return Result{}, err
		}
	case protocol.ActionPassTurn:
		s.DrewThisTurn = false
		s.Advance(1)
	case protocol.ActionDeclareColor:
		s.LockedColor = *a.Color
		s.Phase = game.PhaseAwaitingPlay
		s.Advance(1)
	}

	s.Seq++
	return res, nil
}

func (e *Engine) applyPlay(s *game.State, author uuid.UUID, a protocol.Action) Result {
	actor := s.PlayerByID(author)
	card := *a.Card
	actor.RemoveCard(card)
	s.Discard = append(s.Discard, card)
	s.DrewThisTurn = false

	// A new top card supersedes any previous wild declaration.
	s.LockedColor = deck.Wild

	if len(actor.Hand) == 0 {
		s.Phase = game.PhaseGameOver
		s.Winner = author
		return Result{GameOver: true, Winner: author}
	}

	if card.IsWild() {
		if a.Color == nil {
			// Declaration arrives as a separate action; nobody moves
			// until it does.
			s.Phase = game.PhaseAwaitingColor
			return Result{}
		}
		s.LockedColor = *a.Color
		s.Advance(1)
		return Result{}
	}

	switch card.Value {
	case deck.Skip:
		s.Advance(2)
	case deck.Reverse:
		s.Direction = -s.Direction
		s.Advance(1)
	case deck.DrawTwo:
		s.PendingDraw += card.DrawPenalty()
		s.Advance(1)
	default:
		s.Advance(1)
	}
	return Result{}
}

func (e *Engine) applyDraw(s *game.State, a protocol.Action) (Result, error) {
	need := drawCount(s)
	available := s.Deck.Len()
	if available < need {
		available += len(s.Discard) - 1
	}
	if available < need {
		// Both piles together cannot cover the draw. Fatal stalemate;
		// checked before any card moves so the state stays intact.
		return Result{}, deck.ErrExhausted
	}

	forced := s.PendingDraw > 0
	actor := s.CurrentPlayer()
	var res Result
	for i := 0; i < need; i++ {
		c, err := s.Deck.Draw()
		if err == deck.ErrEmptyDeck {
			rebuilt, _ := deck.DecodeDeck(a.Replenish)
			s.Deck = rebuilt
			s.Discard = s.Discard[len(s.Discard)-1:]
			res.Replenished = true
			c, err = s.Deck.Draw()
		}
		if err != nil {
			return Result{}, err
		}
		actor.Hand = append(actor.Hand, c)
		res.Drawn = append(res.Drawn, c)
	}
	s.PendingDraw = 0

	if e.Rules.DrawThenPlay && !forced {
		s.DrewThisTurn = true
	} else {
		s.DrewThisTurn = false
		s.Advance(1)
	}
	return res, nil
}

// PrepareDraw builds the draw action for the current player, attaching a
// replenish order when the draw will outrun the deck. The seed feeds the
// one shuffle that every other peer will load verbatim.
func (e *Engine) PrepareDraw(s *game.State, seed int64) protocol.Action {
	a := protocol.DrawCard()
	if drawCount(s) > s.Deck.Len() && len(s.Discard) >= 2 {
		rebuilt, _, err := deck.Replenish(s.Discard, seed)
		if err == nil {
			a.Replenish = rebuilt.Encode()
		}
	}
	return a
}
