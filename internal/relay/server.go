// internal/relay/server.go
//
// The rendezvous relay. Peers create or join a room over HTTP, then open a
// websocket with the join token; from there the relay only forwards opaque
// frames between room members. It holds no game state and no accounts.
package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eightsync/internal/transport"
)

// Server wires the room store to its HTTP surface.
type Server struct {
	Store *RoomStore
	Log   *logrus.Logger
}

// NewServer builds a relay server. InitKeys must have been called.
func NewServer(log *logrus.Logger) *Server {
	return &Server{Store: NewRoomStore(), Log: log}
}

// Handler returns the relay's HTTP mux with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/room/create", s.CreateRoomHandler)
	mux.HandleFunc("/room/join", s.JoinRoomHandler)
	mux.HandleFunc("/room/ws", s.RoomWSHandler)
	return s.logMiddleware(mux)
}

// logMiddleware logs the method, path and duration of each request.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP Request")
	})
}

type createRoomRequest struct {
	Passcode string `json:"passcode,omitempty"`
}

type createRoomResponse struct {
	RoomID uuid.UUID `json:"room_id"`
}

// CreateRoomHandler makes a new room, optionally protected by a passcode.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	room, err := s.Store.Create(req.Passcode)
	if err != nil {
		s.Log.WithError(err).Error("create room")
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}
	s.Log.WithField("room_id", room.ID).Info("room created")
	writeJSON(w, createRoomResponse{RoomID: room.ID})
}

type joinRoomRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	Passcode string    `json:"passcode,omitempty"`
}

type joinRoomResponse struct {
	Token  string    `json:"token"`
	PeerID uuid.UUID `json:"peer_id"`
}

// JoinRoomHandler checks the passcode (when the room has one) and issues a
// join token naming a fresh peer id.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	room, ok := s.Store.Get(req.RoomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if room.PasscodeHash != "" {
		match, err := VerifyPasscode(req.Passcode, room.PasscodeHash)
		if err != nil {
			s.Log.WithError(err).Error("verify passcode")
			http.Error(w, "passcode check failed", http.StatusInternalServerError)
			return
		}
		if !match {
			http.Error(w, "wrong passcode", http.StatusForbidden)
			return
		}
	}

	peerID := uuid.New()
	token, err := IssueJoinToken(room.ID, peerID)
	if err != nil {
		s.Log.WithError(err).Error("issue join token")
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, joinRoomResponse{Token: token, PeerID: peerID})
}

// RoomWSHandler upgrades to a websocket, verifies the bearer token, sends the
// welcome frame and then forwards frames until the peer disconnects.
func (s *Server) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	roomID, peerID, err := VerifyJoinToken(token)
	if err != nil {
		s.Log.WithError(err).Warn("rejected join token")
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	room, ok := s.Store.Get(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"relay"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.WithError(err).Warn("websocket accept")
		return
	}
	if conn.Subprotocol() != "relay" {
		conn.Close(websocket.StatusPolicyViolation, "client must use the 'relay' subprotocol")
		return
	}

	log := s.Log.WithFields(logrus.Fields{"room_id": roomID, "peer": peerID, "remote": r.RemoteAddr})
	log.Info("peer connected")

	m := room.attach(peerID, conn)

	welcome, err := transport.EncodeFrame(transport.Frame{
		Type:  transport.FrameWelcome,
		Self:  peerID,
		Peers: room.roster(peerID),
	})
	if err != nil {
		log.WithError(err).Error("encode welcome")
		conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}
	if err := m.write(welcome); err != nil {
		log.WithError(err).Warn("send welcome")
		room.detach(m)
		return
	}
	room.announce(log, transport.FrameJoined, peerID)

	s.readFrames(r, m, room, log)

	if room.detach(m) {
		room.announce(log, transport.FrameLeft, peerID)
	}
	conn.Close(websocket.StatusNormalClosure, "bye")
	log.Info("peer disconnected")
}

// readFrames forwards data frames from one member until the connection ends.
func (s *Server) readFrames(r *http.Request, m *member, room *Room, log *logrus.Entry) {
	ctx := r.Context()
	for {
		msgType, data, err := m.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.WithError(err).Warn("read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			log.Warn("ignoring non-text message")
			continue
		}

		frame, err := transport.DecodeFrame(data)
		if err != nil {
			log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		if frame.Type != transport.FrameData {
			log.WithField("type", frame.Type).Warn("dropping non-data frame from client")
			continue
		}

		// Stamp the sender; clients cannot spoof From.
		frame.From = m.id
		out, err := transport.EncodeFrame(frame)
		if err != nil {
			log.WithError(err).Error("re-encode frame")
			continue
		}
		room.forward(log, m.id, frame.To, out)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browsers cannot set websocket headers; allow the token as a query
	// parameter too.
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
