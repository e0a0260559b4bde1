package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eightsync/internal/transport"
)

func TestPasscodeParallelismNeverZero(t *testing.T) {
	// argon2.IDKey panics when the parallelism degree is zero, which
	// NumCPU()/2 produces on a single-CPU host.
	assert.GreaterOrEqual(t, defaultPasscodeParams.parallelism, uint8(1))
}

func TestPasscodeHashRoundTrip(t *testing.T) {
	hash, err := HashPasscode("open sesame")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := VerifyPasscode("open sesame", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPasscode("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPasscode("anything", "not-a-hash")
	require.Error(t, err)
}

func TestJoinTokenRoundTrip(t *testing.T) {
	require.NoError(t, InitKeys())

	roomID, peerID := uuid.New(), uuid.New()
	token, err := IssueJoinToken(roomID, peerID)
	require.NoError(t, err)

	gotRoom, gotPeer, err := VerifyJoinToken(token)
	require.NoError(t, err)
	assert.Equal(t, roomID, gotRoom)
	assert.Equal(t, peerID, gotPeer)

	_, _, err = VerifyJoinToken(token + "tampered")
	require.Error(t, err)
}

func TestRoomStoreReap(t *testing.T) {
	s := NewRoomStore()
	room, err := s.Create("")
	require.NoError(t, err)

	// A freshly created empty room survives the sweep.
	assert.Equal(t, 0, s.Reap(time.Hour))

	room.CreatedAt = time.Now().Add(-2 * time.Hour)
	assert.Equal(t, 1, s.Reap(time.Hour))
	_, ok := s.Get(room.ID)
	assert.False(t, ok)
}

func testLog() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestCreateAndJoinRoom(t *testing.T) {
	require.NoError(t, InitKeys())
	srv := NewServer(testLog())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/room/create", map[string]string{"passcode": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	// Wrong passcode is refused.
	resp = postJSON(t, ts.URL+"/room/join", map[string]interface{}{"room_id": created.RoomID, "passcode": "nope"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Unknown room is refused.
	resp = postJSON(t, ts.URL+"/room/join", map[string]interface{}{"room_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/room/join", map[string]interface{}{"room_id": created.RoomID, "passcode": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var joined struct {
		Token  string    `json:"token"`
		PeerID uuid.UUID `json:"peer_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	resp.Body.Close()

	roomID, peerID, err := VerifyJoinToken(joined.Token)
	require.NoError(t, err)
	assert.Equal(t, created.RoomID, roomID)
	assert.Equal(t, joined.PeerID, peerID)
}

// joinAndDial goes through the full HTTP join then websocket dial flow.
func joinAndDial(t *testing.T, ts *httptest.Server, roomID uuid.UUID) *transport.RelayChannel {
	t.Helper()
	resp := postJSON(t, ts.URL+"/room/join", map[string]interface{}{"room_id": roomID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var joined struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joined))
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/room/ws"
	ch, err := transport.DialRelay(ctx, wsURL, joined.Token, logrus.NewEntry(testLog()))
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func waitForEvent(t *testing.T, ch *transport.RelayChannel, kind transport.EventKind) transport.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestRelayForwardsFrames(t *testing.T) {
	require.NoError(t, InitKeys())
	srv := NewServer(testLog())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/room/create", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	a := joinAndDial(t, ts, created.RoomID)
	b := joinAndDial(t, ts, created.RoomID)

	// a hears b join; b's welcome already listed a.
	ev := waitForEvent(t, a, transport.EventPeerJoined)
	assert.Equal(t, b.Self(), ev.Peer)
	require.Len(t, b.Peers(), 1)
	assert.Equal(t, a.Self(), b.Peers()[0])

	require.NoError(t, a.Broadcast([]byte(`{"msg":"to everyone"}`)))
	ev = waitForEvent(t, b, transport.EventData)
	assert.Equal(t, a.Self(), ev.Peer, "the relay must stamp the true sender")
	assert.JSONEq(t, `{"msg":"to everyone"}`, string(ev.Data))

	require.NoError(t, b.Send(a.Self(), []byte(`{"msg":"just you"}`)))
	ev = waitForEvent(t, a, transport.EventData)
	assert.Equal(t, b.Self(), ev.Peer)
	assert.JSONEq(t, `{"msg":"just you"}`, string(ev.Data))

	// Closing one side announces the departure to the other.
	require.NoError(t, b.Close())
	ev = waitForEvent(t, a, transport.EventPeerLeft)
	assert.Equal(t, b.Self(), ev.Peer)
}
