// internal/transport/relay_client.go
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RelayChannel is a PeerChannel backed by a websocket connection to the
// rendezvous relay. The relay forwards frames between room members; this
// client tracks the roster from join/leave frames and surfaces everything
// through the Events channel.
type RelayChannel struct {
	conn *websocket.Conn
	log  *logrus.Entry

	self uuid.UUID

	mu    sync.Mutex
	peers map[uuid.UUID]bool

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// DialRelay connects to the relay websocket endpoint with a join token
// issued by the relay's HTTP API and blocks until the welcome frame
// arrives. The returned channel is ready to use.
func DialRelay(ctx context.Context, url, token string, log *logrus.Entry) (*RelayChannel, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"relay"},
		HTTPHeader:   headers,
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	// The relay speaks first: read the welcome frame for our id and the
	// current roster.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no welcome frame")
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil || frame.Type != FrameWelcome {
		conn.Close(websocket.StatusProtocolError, "bad welcome frame")
		return nil, fmt.Errorf("expected welcome frame, got %v (%v)", frame.Type, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	rc := &RelayChannel{
		conn:   conn,
		log:    log.WithField("self", frame.Self),
		self:   frame.Self,
		peers:  make(map[uuid.UUID]bool, len(frame.Peers)),
		events: make(chan Event, 256),
		ctx:    cctx,
		cancel: cancel,
	}
	for _, p := range frame.Peers {
		rc.peers[p] = true
	}
	go rc.readLoop()
	return rc, nil
}

// Self returns the relay-assigned peer id.
func (rc *RelayChannel) Self() uuid.UUID { return rc.self }

// Peers lists the current room roster, excluding self.
func (rc *RelayChannel) Peers() []uuid.UUID {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]uuid.UUID, 0, len(rc.peers))
	for p := range rc.peers {
		out = append(out, p)
	}
	return out
}

// Send delivers data to one peer through the relay.
func (rc *RelayChannel) Send(peer uuid.UUID, data []byte) error {
	return rc.write(Frame{Type: FrameData, To: &peer, Data: data})
}

// Broadcast delivers data to every room member through the relay.
func (rc *RelayChannel) Broadcast(data []byte) error {
	return rc.write(Frame{Type: FrameData, Data: data})
}

func (rc *RelayChannel) write(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := rc.conn.Write(rc.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// Events yields data frames and roster changes.
func (rc *RelayChannel) Events() <-chan Event { return rc.events }

// Close tears down the relay connection.
func (rc *RelayChannel) Close() error {
	rc.cancel()
	return rc.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (rc *RelayChannel) readLoop() {
	defer close(rc.events)
	for {
		_, data, err := rc.conn.Read(rc.ctx)
		if err != nil {
			if rc.ctx.Err() == nil {
				rc.log.WithError(err).Warn("relay connection lost")
			}
			rc.events <- Event{Kind: EventClosed, Err: err}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			rc.log.WithError(err).Warn("dropping malformed relay frame")
			continue
		}
		switch frame.Type {
		case FrameData:
			rc.deliver(Event{Kind: EventData, Peer: frame.From, Data: frame.Data})
		case FrameJoined:
			rc.mu.Lock()
			rc.peers[frame.From] = true
			rc.mu.Unlock()
			rc.deliver(Event{Kind: EventPeerJoined, Peer: frame.From})
		case FrameLeft:
			rc.mu.Lock()
			delete(rc.peers, frame.From)
			rc.mu.Unlock()
			rc.deliver(Event{Kind: EventPeerLeft, Peer: frame.From})
		case FrameWelcome:
			rc.log.Warn("unexpected second welcome frame, ignoring")
		}
	}
}

// deliver queues an event, dropping the connection if the consumer has
// fallen an entire buffer behind. In-order delivery per sender would be
// broken by silently skipping frames, so a stalled consumer is fatal.
func (rc *RelayChannel) deliver(ev Event) {
	select {
	case rc.events <- ev:
	default:
		rc.log.Error("event buffer overflow, closing relay channel")
		rc.cancel()
	}
}
