// internal/transport/frame.go
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FrameType discriminates relay wire frames.
type FrameType string

const (
	// FrameWelcome is the relay's first frame on a new connection: the
	// assigned peer id and the current room roster.
	FrameWelcome FrameType = "welcome"
	// FrameJoined announces a peer joining the room.
	FrameJoined FrameType = "joined"
	// FrameLeft announces a peer leaving the room.
	FrameLeft FrameType = "left"
	// FrameData carries an opaque application payload. Client to relay the
	// To field selects unicast or, when nil, room-wide fan-out; relay to
	// client the From field names the sender.
	FrameData FrameType = "data"
)

// Frame is the single message shape exchanged with the relay. The relay
// never inspects Data; it only moves it.
type Frame struct {
	Type  FrameType   `json:"type"`
	From  uuid.UUID   `json:"from,omitempty"`
	To    *uuid.UUID  `json:"to,omitempty"`
	Self  uuid.UUID   `json:"self,omitempty"`
	Peers []uuid.UUID `json:"peers,omitempty"`
	Data  []byte      `json:"data,omitempty"`
}

// EncodeFrame serializes a frame for the relay socket.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeFrame parses a frame received on the relay socket.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameWelcome, FrameJoined, FrameLeft, FrameData:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
}
