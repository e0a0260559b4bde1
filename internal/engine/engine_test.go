package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eightsync/internal/deck"
	"eightsync/internal/game"
	"eightsync/internal/protocol"
)

func card(c deck.Color, v deck.Value, copy uint8) deck.Card {
	return deck.Card{Color: c, Value: v, Copy: copy}
}

// testState builds a state with explicit hands, deck order (top last) and a
// starting discard top, bypassing the deal for scenario control.
func testState(t *testing.T, hands [][]deck.Card, deckCards []deck.Card, top deck.Card) *game.State {
	t.Helper()
	require.GreaterOrEqual(t, len(hands), 2)
	players := make([]*game.Player, len(hands))
	for i, h := range hands {
		players[i] = &game.Player{ID: uuid.New(), Name: string(rune('A' + i)), Hand: h}
	}
	s := game.NewState(uuid.New(), players, deck.NewDeckFrom(deckCards))
	s.Discard = []deck.Card{top}
	return s
}

func TestOrdinaryPlayAdvancesTurn(t *testing.T) {
	e := New(DefaultRules())
	red5 := card(deck.Red, deck.Five, 1)
	s := testState(t,
		[][]deck.Card{
			{red5, card(deck.Blue, deck.Nine, 1)},
			{card(deck.Green, deck.One, 1), card(deck.Green, deck.Two, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	_, err := e.Apply(s, a.ID, protocol.PlayCard(red5))
	require.NoError(t, err)

	top, _ := s.TopDiscard()
	assert.Equal(t, red5, top)
	assert.Len(t, a.Hand, 1)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)
	assert.Equal(t, uint64(1), s.Seq)
	assert.Equal(t, game.PhaseAwaitingPlay, s.Phase)
}

func TestRejectionLeavesStateUntouched(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Blue, deck.Nine, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		[]deck.Card{card(deck.Yellow, deck.Four, 1)},
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	before := s.Digest()
	beforeHand := append([]deck.Card(nil), a.Hand...)

	cases := []struct {
		author uuid.UUID
		action protocol.Action
		reason protocol.Reason
	}{
		// Mismatched card.
		{a.ID, protocol.PlayCard(card(deck.Blue, deck.Nine, 1)), protocol.ReasonCardMismatch},
		// Card not in hand.
		{a.ID, protocol.PlayCard(card(deck.Red, deck.Two, 2)), protocol.ReasonCardNotInHand},
		// Out of turn.
		{b.ID, protocol.DrawCard(), protocol.ReasonNotYourTurn},
		// Declaration with no wild pending.
		{a.ID, protocol.DeclareColor(deck.Blue), protocol.ReasonWrongPhase},
		// Pass with nothing to pass.
		{a.ID, protocol.PassTurn(), protocol.ReasonNothingToPass},
	}
	for _, tc := range cases {
		_, err := e.Apply(s, tc.author, tc.action)
		require.Error(t, err)
		var illegalErr *IllegalActionError
		require.ErrorAs(t, err, &illegalErr)
		assert.Equal(t, tc.reason, illegalErr.Reason)
	}

	assert.Equal(t, before, s.Digest(), "rejected actions must not mutate state")
	assert.Equal(t, beforeHand, a.Hand)
	assert.Equal(t, uint64(0), s.Seq)
}

func TestWildFlowBlocksUntilDeclared(t *testing.T) {
	e := New(DefaultRules())
	wild := deck.NewWild(0)
	s := testState(t,
		[][]deck.Card{
			{wild, card(deck.Blue, deck.Nine, 1)},
			{card(deck.Green, deck.One, 1), card(deck.Red, deck.One, 1)},
		},
		[]deck.Card{card(deck.Yellow, deck.Four, 1)},
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	_, err := e.Apply(s, a.ID, protocol.PlayCard(wild))
	require.NoError(t, err)
	assert.Equal(t, game.PhaseAwaitingColor, s.Phase)
	assert.Equal(t, a.ID, s.CurrentPlayer().ID, "turn stays with the wild player until declaration")

	// Nobody may act until the declaration arrives.
	_, err = e.Apply(s, a.ID, protocol.DrawCard())
	assert.Error(t, err)
	_, err = e.Apply(s, b.ID, protocol.PlayCard(card(deck.Red, deck.One, 1)))
	assert.Error(t, err)

	// Declaring wild as the color is rejected.
	_, err = e.Apply(s, a.ID, protocol.DeclareColor(deck.Wild))
	assert.Error(t, err)

	_, err = e.Apply(s, a.ID, protocol.DeclareColor(deck.Green))
	require.NoError(t, err)
	assert.Equal(t, game.PhaseAwaitingPlay, s.Phase)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)
	assert.Equal(t, deck.Green, s.LockedColor)

	// The declared color now gates legality.
	_, err = e.Apply(s, b.ID, protocol.PlayCard(card(deck.Red, deck.One, 1)))
	assert.Error(t, err)
	_, err = e.Apply(s, b.ID, protocol.PlayCard(card(deck.Green, deck.One, 1)))
	require.NoError(t, err)

	// A non-wild on top supersedes the lock.
	assert.Equal(t, deck.Wild, s.LockedColor)
	active, ok := s.ActiveColor()
	require.True(t, ok)
	assert.Equal(t, deck.Green, active)
}

func TestInlineWildDeclaration(t *testing.T) {
	e := New(DefaultRules())
	wild := deck.NewWild(2)
	s := testState(t,
		[][]deck.Card{
			{wild, card(deck.Blue, deck.Nine, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	_, err := e.Apply(s, a.ID, protocol.PlayWild(wild, deck.Blue))
	require.NoError(t, err)
	assert.Equal(t, game.PhaseAwaitingPlay, s.Phase)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)
	assert.Equal(t, deck.Blue, s.LockedColor)
}

func TestSkipAndReverseModifiers(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Red, deck.Skip, 1), card(deck.Red, deck.Reverse, 1)},
			{card(deck.Green, deck.One, 1)},
			{card(deck.Red, deck.Reverse, 2), card(deck.Blue, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	a, c := s.Players[0], s.Players[2]

	// Skip jumps over player B.
	_, err := e.Apply(s, a.ID, protocol.PlayCard(card(deck.Red, deck.Skip, 1)))
	require.NoError(t, err)
	assert.Equal(t, c.ID, s.CurrentPlayer().ID)

	// Reverse flips direction: C reverses, next seat counterclockwise is B.
	_, err = e.Apply(s, c.ID, protocol.PlayCard(card(deck.Red, deck.Reverse, 2)))
	require.NoError(t, err)
	assert.Equal(t, -1, s.Direction)
	assert.Equal(t, s.Players[1].ID, s.CurrentPlayer().ID)
}

func TestReverseWithTwoPlayersPassesTurn(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Red, deck.Reverse, 1), card(deck.Blue, deck.One, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	_, err := e.Apply(s, a.ID, protocol.PlayCard(card(deck.Red, deck.Reverse, 1)))
	require.NoError(t, err)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)
}

func TestDrawTwoStacksToFour(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Red, deck.DrawTwo, 1), card(deck.Blue, deck.One, 1)},
			{card(deck.Yellow, deck.DrawTwo, 1), card(deck.Green, deck.One, 1)},
			{card(deck.Blue, deck.Two, 1), card(deck.Blue, deck.Three, 1)},
		},
		[]deck.Card{
			card(deck.Green, deck.Five, 1), card(deck.Green, deck.Six, 1),
			card(deck.Green, deck.Eight, 1), card(deck.Green, deck.Nine, 1),
			card(deck.Yellow, deck.One, 1),
		},
		card(deck.Red, deck.Two, 1),
	)
	a, b, c := s.Players[0], s.Players[1], s.Players[2]

	_, err := e.Apply(s, a.ID, protocol.PlayCard(card(deck.Red, deck.DrawTwo, 1)))
	require.NoError(t, err)
	assert.Equal(t, 2, s.PendingDraw)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)

	// B stacks another draw-two instead of drawing.
	_, err = e.Apply(s, b.ID, protocol.PlayCard(card(deck.Yellow, deck.DrawTwo, 1)))
	require.NoError(t, err)
	assert.Equal(t, 4, s.PendingDraw)
	assert.Equal(t, c.ID, s.CurrentPlayer().ID)

	// C has no penalty card: an ordinary play is rejected.
	_, err = e.Apply(s, c.ID, protocol.PlayCard(card(deck.Blue, deck.Two, 1)))
	var illegalErr *IllegalActionError
	require.ErrorAs(t, err, &illegalErr)
	assert.Equal(t, protocol.ReasonPendingDraw, illegalErr.Reason)

	// C draws the whole accumulated penalty at once.
	res, err := e.Apply(s, c.ID, protocol.DrawCard())
	require.NoError(t, err)
	assert.Len(t, res.Drawn, 4)
	assert.Len(t, c.Hand, 6)
	assert.Equal(t, 0, s.PendingDraw)
	assert.Equal(t, a.ID, s.CurrentPlayer().ID)
}

func TestStackingDisabledForcesDraw(t *testing.T) {
	rules := DefaultRules()
	rules.StackDraws = false
	e := New(rules)
	s := testState(t,
		[][]deck.Card{
			{card(deck.Red, deck.DrawTwo, 1), card(deck.Blue, deck.One, 1)},
			{card(deck.Red, deck.DrawTwo, 2), card(deck.Green, deck.One, 1)},
		},
		[]deck.Card{card(deck.Green, deck.Five, 1), card(deck.Green, deck.Six, 1)},
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	_, err := e.Apply(s, a.ID, protocol.PlayCard(card(deck.Red, deck.DrawTwo, 1)))
	require.NoError(t, err)

	_, err = e.Apply(s, b.ID, protocol.PlayCard(card(deck.Red, deck.DrawTwo, 2)))
	assert.Error(t, err, "stacking disabled: the penalty card cannot answer")

	_, err = e.Apply(s, b.ID, protocol.DrawCard())
	require.NoError(t, err)
	assert.Len(t, b.Hand, 4)
}

func TestDrawReplenishesFromDiscard(t *testing.T) {
	e := New(DefaultRules())
	buried := []deck.Card{
		card(deck.Green, deck.Five, 1),
		card(deck.Green, deck.Six, 1),
		card(deck.Yellow, deck.Nine, 1),
	}
	top := card(deck.Red, deck.Two, 1)
	s := testState(t,
		[][]deck.Card{
			{card(deck.Blue, deck.One, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		nil, // empty deck
		top,
	)
	s.Discard = append(buried, top)
	a := s.Players[0]

	action := e.PrepareDraw(s, 99)
	require.NotEmpty(t, action.Replenish, "draw from an empty deck must carry the replenish order")

	res, err := e.Apply(s, a.ID, action)
	require.NoError(t, err)
	assert.True(t, res.Replenished)
	assert.Len(t, res.Drawn, 1)
	assert.Len(t, a.Hand, 2)

	gotTop, ok := s.TopDiscard()
	require.True(t, ok)
	assert.Equal(t, top, gotTop, "top discard survives the replenish")
	assert.Len(t, s.Discard, 1)
	assert.Equal(t, 2, s.Deck.Len(), "three buried cards minus the one drawn")
}

func TestDrawExhaustedIsFatal(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Blue, deck.One, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	before := s.Digest()

	_, err := e.Apply(s, s.Players[0].ID, protocol.DrawCard())
	assert.ErrorIs(t, err, deck.ErrExhausted)
	assert.Equal(t, before, s.Digest(), "a fatal stall must not half-apply")
}

func TestForgedReplenishRejected(t *testing.T) {
	e := New(DefaultRules())
	s := testState(t,
		[][]deck.Card{
			{card(deck.Blue, deck.One, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	s.Discard = []deck.Card{card(deck.Green, deck.Five, 1), card(deck.Red, deck.Two, 1)}

	// Replenish order smuggles in a card that is not in the discard pile.
	forged := protocol.DrawCard()
	forged.Replenish = []byte{card(deck.Blue, deck.Nine, 2).Encode()}

	_, err := e.Apply(s, s.Players[0].ID, forged)
	var illegalErr *IllegalActionError
	require.ErrorAs(t, err, &illegalErr)
	assert.Equal(t, protocol.ReasonBadReplenish, illegalErr.Reason)
}

func TestWinOnLastCard(t *testing.T) {
	e := New(DefaultRules())
	last := card(deck.Red, deck.Five, 1)
	s := testState(t,
		[][]deck.Card{
			{last},
			{card(deck.Green, deck.One, 1)},
		},
		nil,
		card(deck.Red, deck.Two, 1),
	)
	a := s.Players[0]

	res, err := e.Apply(s, a.ID, protocol.PlayCard(last))
	require.NoError(t, err)
	assert.True(t, res.GameOver)
	assert.Equal(t, a.ID, res.Winner)
	assert.Equal(t, game.PhaseGameOver, s.Phase)

	// Terminal: nothing is accepted anymore.
	_, err = e.Apply(s, s.Players[1].ID, protocol.DrawCard())
	var illegalErr *IllegalActionError
	require.ErrorAs(t, err, &illegalErr)
	assert.Equal(t, protocol.ReasonGameOver, illegalErr.Reason)
}

func TestDrawThenPlayKeepsTurn(t *testing.T) {
	rules := DefaultRules()
	rules.DrawThenPlay = true
	e := New(rules)
	s := testState(t,
		[][]deck.Card{
			{card(deck.Blue, deck.One, 1)},
			{card(deck.Green, deck.One, 1)},
		},
		[]deck.Card{card(deck.Red, deck.Nine, 1), card(deck.Yellow, deck.Four, 1)},
		card(deck.Red, deck.Two, 1),
	)
	a, b := s.Players[0], s.Players[1]

	res, err := e.Apply(s, a.ID, protocol.DrawCard())
	require.NoError(t, err)
	require.Len(t, res.Drawn, 1)
	assert.Equal(t, a.ID, s.CurrentPlayer().ID, "voluntary draw keeps the turn")

	// A second draw in the same turn is rejected.
	_, err = e.Apply(s, a.ID, protocol.DrawCard())
	var illegalErr *IllegalActionError
	require.ErrorAs(t, err, &illegalErr)
	assert.Equal(t, protocol.ReasonAlreadyDrew, illegalErr.Reason)

	// The drawn card is not playable either, so passing is the only move.
	require.Equal(t, card(deck.Yellow, deck.Four, 1), res.Drawn[0])
	_, err = e.Apply(s, a.ID, protocol.PassTurn())
	require.NoError(t, err)
	assert.Equal(t, b.ID, s.CurrentPlayer().ID)
	assert.False(t, s.DrewThisTurn)
}

func TestSetupMatchDealsAndFlips(t *testing.T) {
	e := New(DefaultRules())
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	names := map[uuid.UUID]string{ids[0]: "ada", ids[1]: "bob", ids[2]: "cleo"}
	start := NewStartPayload(uuid.New(), ids, names, DefaultRules(), 1234, false)

	s, err := e.SetupMatch(start)
	require.NoError(t, err)

	for i, p := range s.Players {
		assert.Equal(t, ids[i], p.ID)
		assert.Len(t, p.Hand, 7)
	}
	top, ok := s.TopDiscard()
	require.True(t, ok)
	assert.False(t, top.IsWild(), "an undeclared wild never opens play")
	assert.Equal(t, 100, s.CardCount(), "every card accounted for after the deal")
	assert.Equal(t, uint64(0), s.Seq)
	assert.Equal(t, ids[0], s.CurrentPlayer().ID)
}

func TestSetupMatchAdoptsHostRules(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	names := map[uuid.UUID]string{ids[0]: "ada", ids[1]: "bob"}
	host := Rules{HandSize: 5, DrawThenPlay: true, StackDraws: false}
	start := NewStartPayload(uuid.New(), ids, names, host, 99, false)

	// The joining peer was launched with different flags; replicas running
	// different rules would replay the same log into different states.
	e := New(DefaultRules())
	s, err := e.SetupMatch(start)
	require.NoError(t, err)

	assert.Equal(t, host, e.Rules, "the payload's table rules win over local flags")
	assert.Len(t, s.Players[0].Hand, 5)

	// Under the host's draw-then-play rule a voluntary draw keeps the turn.
	author := s.CurrentPlayer().ID
	_, err = e.Apply(s, author, e.PrepareDraw(s, 1))
	require.NoError(t, err)
	assert.Equal(t, author, s.CurrentPlayer().ID)
}

func TestConvergenceAndConservation(t *testing.T) {
	// Two peers set up from the same start payload and replay the same
	// action trace; they must agree on every public field at every step,
	// and no card may ever appear or vanish.
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	names := map[uuid.UUID]string{ids[0]: "ada", ids[1]: "bob"}
	start := NewStartPayload(uuid.New(), ids, names, DefaultRules(), 777, false)

	e1, e2 := New(DefaultRules()), New(DefaultRules())
	s1, err := e1.SetupMatch(start)
	require.NoError(t, err)
	s2, err := e2.SetupMatch(start)
	require.NoError(t, err)
	require.Equal(t, s1.Digest(), s2.Digest())

	fullDeck := deck.NewStandardDeck()
	wantCards := map[deck.Card]int{}
	for _, c := range fullDeck.Cards() {
		wantCards[c]++
	}

	var seq uint64
	for i := 0; i < 40 && s1.Phase != game.PhaseGameOver; i++ {
		author := s1.CurrentPlayer().ID
		action := pickAction(e1, s1)

		_, err := e1.Apply(s1, author, action)
		require.NoError(t, err)
		_, err = e2.Apply(s2, author, action)
		require.NoError(t, err)

		seq++
		require.Equal(t, seq, s1.Seq, "sequence increases by exactly one per applied action")
		require.Equal(t, s1.Digest(), s2.Digest(), "digests diverged at seq %d", seq)
		require.Equal(t, wantCards, s1.AllCards(), "card conservation broken at seq %d", seq)
	}
}

// pickAction plays the first legal card, declares red for pending wilds, and
// draws otherwise. Deterministic so both replicas see the same trace.
func pickAction(e *Engine, s *game.State) protocol.Action {
	if s.Phase == game.PhaseAwaitingColor {
		return protocol.DeclareColor(deck.Red)
	}
	p := s.CurrentPlayer()
	for _, c := range p.Hand {
		if c.IsWild() {
			continue
		}
		if err := e.Validate(s, p.ID, protocol.PlayCard(c)); err == nil {
			return protocol.PlayCard(c)
		}
	}
	for _, c := range p.Hand {
		if c.IsWild() {
			return protocol.PlayCard(c)
		}
	}
	return e.PrepareDraw(s, 5)
}
