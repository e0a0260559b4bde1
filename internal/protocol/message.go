// internal/protocol/message.go
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType discriminates the sync-layer wire messages.
type MessageType string

const (
	// MsgAction carries one stamped action.
	MsgAction MessageType = "action"
	// MsgResendRequest asks a peer to replay envelopes in a seq range.
	MsgResendRequest MessageType = "resend_request"
	// MsgResend answers a resend request with the stored envelopes.
	MsgResend MessageType = "resend"
	// MsgDigest carries a state digest for divergence detection.
	MsgDigest MessageType = "digest"
	// MsgStart is the host's deal: seating order, names, deck order.
	MsgStart MessageType = "start"
	// MsgHello is the lobby name exchange before a match starts.
	MsgHello MessageType = "hello"
)

// Hello announces a peer's display name in the lobby.
type Hello struct {
	Name string `json:"name"`
}

// Start is the host's game-start payload. Every peer deals identical hands
// from the broadcast deck order, so no peer ever needs to agree on a shuffle.
// The table rules travel with the deal; peers adopt them over their own
// flags, since replicas running different rules diverge on the same log.
type Start struct {
	MatchID      uuid.UUID            `json:"match_id"`
	Order        []uuid.UUID          `json:"order"`
	Names        map[uuid.UUID]string `json:"names"`
	Deck         []byte               `json:"deck"`
	HandSize     int                  `json:"hand_size"`
	DrawThenPlay bool                 `json:"draw_then_play,omitempty"`
	StackDraws   bool                 `json:"stack_draws,omitempty"`
	Rematch      bool                 `json:"rematch,omitempty"`
}

// Digest pairs a sequence number with the state hash observed there.
type Digest struct {
	Seq  uint64 `json:"seq"`
	Hash uint64 `json:"hash"`
}

// ResendRequest names an inclusive seq range the requester is missing.
type ResendRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Message is the single frame type the sync layer serializes onto the peer
// channel. Exactly one payload field is set, matching Type.
type Message struct {
	Type MessageType `json:"type"`

	Envelope  *Envelope      `json:"envelope,omitempty"`
	Resend    *ResendRequest `json:"resend,omitempty"`
	Envelopes []Envelope     `json:"envelopes,omitempty"`
	Digest    *Digest        `json:"digest,omitempty"`
	Start     *Start         `json:"start,omitempty"`
	Hello     *Hello         `json:"hello,omitempty"`
}

// EncodeMessage serializes a message for the peer channel.
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// DecodeMessage parses a frame received from the peer channel and checks
// that the payload matching the type is present.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch m.Type {
	case MsgAction:
		if m.Envelope == nil {
			return Message{}, fmt.Errorf("action message missing envelope")
		}
	case MsgResendRequest:
		if m.Resend == nil {
			return Message{}, fmt.Errorf("resend_request message missing range")
		}
	case MsgResend:
		// An empty envelope list is a valid "nothing to replay" answer.
	case MsgDigest:
		if m.Digest == nil {
			return Message{}, fmt.Errorf("digest message missing digest")
		}
	case MsgStart:
		if m.Start == nil {
			return Message{}, fmt.Errorf("start message missing payload")
		}
	case MsgHello:
		if m.Hello == nil {
			return Message{}, fmt.Errorf("hello message missing payload")
		}
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}
