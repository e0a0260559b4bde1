// internal/game/digest.go
package game

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Digest hashes the publicly comparable fields of the state: sequence
// number, phase, current player, direction, pending draws, locked color,
// discard top, deck size and every hand count. Two peers at the same
// sequence number must produce the same digest; a mismatch means their
// histories diverged.
func (s *State) Digest() uint64 {
	h := xxhash.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], s.Seq)
	h.Write(buf[:])

	h.Write([]byte{byte(s.Phase), byte(s.Current), byte((s.Direction + 2) & 0xff), byte(s.PendingDraw), byte(s.LockedColor)})

	if top, ok := s.TopDiscard(); ok {
		h.Write([]byte{1, top.Encode()})
	} else {
		h.Write([]byte{0, 0})
	}

	binary.BigEndian.PutUint64(buf[:], uint64(s.Deck.Len()))
	h.Write(buf[:])

	for _, p := range s.Players {
		h.Write(p.ID[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(p.Hand)))
		h.Write(buf[:])
	}
	return h.Sum64()
}
