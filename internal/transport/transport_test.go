package transport

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	to := uuid.New()
	f := Frame{
		Type: FrameData,
		From: uuid.New(),
		To:   &to,
		Data: []byte(`{"hello":"world"}`),
	}
	data, err := EncodeFrame(f)
	require.NoError(t, err)

	got, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, f.From, got.From)
	require.NotNil(t, got.To)
	assert.Equal(t, to, *got.To)
	assert.Equal(t, f.Data, got.Data)
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"teleport"}`))
	require.Error(t, err)
	_, err = DecodeFrame([]byte(`garbage`))
	require.Error(t, err)
}

func collect(ep *LoopbackEndpoint, n int) []Event {
	out := make([]Event, 0, n)
	for len(out) < n {
		out = append(out, <-ep.Events())
	}
	return out
}

func TestLoopbackBroadcastAndSend(t *testing.T) {
	hub := NewLoopback()
	a, b, c := hub.Endpoint(), hub.Endpoint(), hub.Endpoint()

	// Earlier endpoints hear later ones join.
	joins := collect(a, 2)
	assert.Equal(t, EventPeerJoined, joins[0].Kind)
	assert.Equal(t, b.Self(), joins[0].Peer)
	assert.Equal(t, c.Self(), joins[1].Peer)
	collect(b, 1)

	assert.Len(t, a.Peers(), 2)

	require.NoError(t, a.Broadcast([]byte("to all")))
	evB := collect(b, 1)[0]
	evC := collect(c, 1)[0]
	assert.Equal(t, EventData, evB.Kind)
	assert.Equal(t, a.Self(), evB.Peer)
	assert.Equal(t, []byte("to all"), evB.Data)
	assert.Equal(t, []byte("to all"), evC.Data)

	require.NoError(t, b.Send(c.Self(), []byte("just you")))
	evC = collect(c, 1)[0]
	assert.Equal(t, b.Self(), evC.Peer)
	assert.Equal(t, []byte("just you"), evC.Data)
	select {
	case ev := <-a.Events():
		t.Fatalf("unicast leaked to a third peer: %+v", ev)
	default:
	}
}

func TestLoopbackDropHook(t *testing.T) {
	hub := NewLoopback()
	a, b := hub.Endpoint(), hub.Endpoint()
	collect(a, 1)

	a.Drop = func(to uuid.UUID, data []byte) bool { return true }
	require.NoError(t, a.Broadcast([]byte("lost")))
	select {
	case ev := <-b.Events():
		t.Fatalf("dropped frame was delivered: %+v", ev)
	default:
	}
}

func TestLoopbackCloseAnnouncesLeave(t *testing.T) {
	hub := NewLoopback()
	a, b := hub.Endpoint(), hub.Endpoint()
	collect(a, 1)

	require.NoError(t, b.Close())
	ev := collect(a, 1)[0]
	assert.Equal(t, EventPeerLeft, ev.Kind)
	assert.Equal(t, b.Self(), ev.Peer)
	assert.Empty(t, a.Peers())

	// The closing endpoint sees a final EventClosed and a closed channel.
	evs := []Event{}
	for ev := range b.Events() {
		evs = append(evs, ev)
	}
	require.NotEmpty(t, evs)
	assert.Equal(t, EventClosed, evs[len(evs)-1].Kind)

	err := a.Send(b.Self(), []byte("too late"))
	require.Error(t, err)
}
