// internal/deck/deck.go
package deck

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrEmptyDeck is returned by Draw when no cards remain. The caller is
// expected to replenish from the discard pile and retry.
var ErrEmptyDeck = errors.New("deck is empty")

// ErrExhausted is returned by Replenish when the discard pile holds fewer
// than two cards, leaving nothing to rebuild the deck from. This is a
// terminal stalemate for the match.
var ErrExhausted = errors.New("deck and discard pile are exhausted")

// Deck is the undealt draw pile. The top of the deck is the end of the
// slice; Draw pops from there.
type Deck struct {
	cards []Card
}

// NewStandardDeck builds the full ordered 100-card deck: two copies of every
// colored card except sevens, plus four wilds. The order is deterministic;
// shuffle before dealing.
func NewStandardDeck() *Deck {
	cards := make([]Card, 0, 100)
	for _, color := range BaseColors {
		for v := Zero; v <= DrawTwo; v++ {
			if v == Seven {
				continue
			}
			cards = append(cards, Card{Color: color, Value: v, Copy: 1})
			cards = append(cards, Card{Color: color, Value: v, Copy: 2})
		}
	}
	for i := uint8(0); i < 4; i++ {
		cards = append(cards, NewWild(i))
	}
	return &Deck{cards: cards}
}

// NewDeckFrom builds a deck from an explicit card order, top last.
func NewDeckFrom(cards []Card) *Deck {
	d := &Deck{cards: make([]Card, len(cards))}
	copy(d.cards, cards)
	return d
}

// Len returns the number of undealt cards.
func (d *Deck) Len() int {
	return len(d.cards)
}

// Cards returns a copy of the deck order, top last.
func (d *Deck) Cards() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards)
	return out
}

// Shuffle permutes the deck with a seeded source. The same seed over the
// same card order produces the same permutation on every peer, which is what
// lets independently replayed shuffles converge.
func (d *Deck) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Draw removes and returns the top card. Returns ErrEmptyDeck when nothing
// remains; the deck is never replenished implicitly.
func (d *Deck) Draw() (Card, error) {
	if len(d.cards) == 0 {
		return Card{}, ErrEmptyDeck
	}
	c := d.cards[len(d.cards)-1]
	d.cards = d.cards[:len(d.cards)-1]
	return c, nil
}

// Replenish builds a new deck from every discard except the top card,
// shuffled with the given seed. It returns the new deck and the single-card
// discard pile that remains. The input pile is not modified.
func Replenish(discard []Card, seed int64) (*Deck, []Card, error) {
	if len(discard) < 2 {
		return nil, nil, ErrExhausted
	}
	top := discard[len(discard)-1]
	d := NewDeckFrom(discard[:len(discard)-1])
	d.Shuffle(seed)
	return d, []Card{top}, nil
}

// Encode serializes the deck order to one byte per card, top last. This is
// the payload the host broadcasts at game start so all peers deal from an
// identical pile.
func (d *Deck) Encode() []byte {
	out := make([]byte, len(d.cards))
	for i, c := range d.cards {
		out[i] = c.Encode()
	}
	return out
}

// DecodeDeck parses an encoded deck order.
func DecodeDeck(data []byte) (*Deck, error) {
	cards := make([]Card, len(data))
	for i, b := range data {
		c, err := DecodeCard(b)
		if err != nil {
			return nil, fmt.Errorf("decode deck at %d: %w", i, err)
		}
		cards[i] = c
	}
	return &Deck{cards: cards}, nil
}
