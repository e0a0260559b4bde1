// internal/deck/card.go
package deck

import "fmt"

// Color identifies a card color. Wild cards have no effective color until the
// playing peer declares one.
type Color uint8

const (
	Red Color = iota
	Yellow
	Green
	Blue
	Wild
)

// BaseColors lists the four declarable colors, in wire-code order.
var BaseColors = [4]Color{Red, Yellow, Green, Blue}

func (c Color) String() string {
	switch c {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Wild:
		return "wild"
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}

// Valid reports whether c is one of the known colors, wild included.
func (c Color) Valid() bool {
	return c <= Wild
}

// Value is the rank printed on a card.
type Value uint8

const (
	Zero Value = iota
	One
	Two
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Skip
	Reverse
	DrawTwo
)

func (v Value) String() string {
	switch {
	case v <= Nine:
		return fmt.Sprintf("%d", uint8(v))
	case v == Skip:
		return "skip"
	case v == Reverse:
		return "reverse"
	case v == DrawTwo:
		return "+2"
	}
	return fmt.Sprintf("value(%d)", uint8(v))
}

// Card is an immutable value identifying a single physical card. Copy
// disambiguates cards sharing a color and value; the standard deck carries two
// copies of every colored card and four wilds. Equality is plain value
// equality, which makes Card usable as a map key in conservation checks.
type Card struct {
	Color Color `json:"color"`
	Value Value `json:"value"`
	Copy  uint8 `json:"copy"`
}

// NewWild returns the canonical wild card for the given copy (0-3). Wilds
// carry Zero as their value; the value never participates in match checks.
func NewWild(copy uint8) Card {
	return Card{Color: Wild, Value: Zero, Copy: copy}
}

// IsWild reports whether the card is a wild.
func (c Card) IsWild() bool {
	return c.Color == Wild
}

// DrawPenalty returns the number of cards the next player is forced to draw
// when this card is played, or 0 for non-penalty cards.
func (c Card) DrawPenalty() int {
	if c.Value == DrawTwo && !c.IsWild() {
		return 2
	}
	return 0
}

// Playable reports whether the card may be placed on a pile whose effective
// color is active and whose top card is top. Wilds are always playable; other
// cards must match the active color, or the top card's value when the top is
// not itself a wild.
func (c Card) Playable(active Color, top Card) bool {
	if c.IsWild() {
		return true
	}
	if c.Color == active {
		return true
	}
	return !top.IsWild() && c.Value == top.Value
}

func (c Card) String() string {
	if c.IsWild() {
		return "wild"
	}
	return fmt.Sprintf("%s %s", c.Color, c.Value)
}

// Wire codec. Every card fits one byte: colored cards occupy 0-103 (color*13
// + value for the first copy, +52 for the second), wilds occupy 104-107.
// The 13-value stride leaves the seven slots unused since the standard deck
// has no sevens, but keeping the stride makes decode trivial.

const wildBase = 104

// Encode returns the one-byte wire form of the card.
func (c Card) Encode() byte {
	if c.IsWild() {
		return wildBase + c.Copy
	}
	return byte(c.Color)*13 + byte(c.Value) + (c.Copy-1)*52
}

// DecodeCard parses a one-byte wire form back into a Card.
func DecodeCard(b byte) (Card, error) {
	if b >= wildBase {
		copy := b - wildBase
		if copy > 3 {
			return Card{}, fmt.Errorf("decode card: invalid wild byte %d", b)
		}
		return NewWild(copy), nil
	}
	var copy uint8 = 1
	if b >= 52 {
		b -= 52
		copy = 2
	}
	v := Value(b % 13)
	if v == Seven {
		return Card{}, fmt.Errorf("decode card: byte %d maps to a seven, not in deck", b)
	}
	return Card{Color: Color(b / 13), Value: v, Copy: copy}, nil
}
