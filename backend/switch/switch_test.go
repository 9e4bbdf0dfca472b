package _switch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/broadcast-link/backend/model"
)

func newTestSwitch() *Switch {
	logger := zerolog.Nop()
	return NewSwitch(&logger)
}

func collect(ch <-chan []byte, wait time.Duration) [][]byte {
	var out [][]byte
	timer := time.After(wait)
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
			continue
		default:
		}
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-timer:
			return out
		}
	}
}

func subscribe(t *testing.T, e *Endpoint, channel string) (<-chan []byte, model.Subscription) {
	t.Helper()
	ch := make(chan []byte, 16)
	sub, err := e.Subscribe(channel, func(msg []byte) { ch <- msg })
	require.NoError(t, err)
	return ch, sub
}

func TestEndpointBroadcastSkipsSender(t *testing.T) {
	sw := newTestSwitch()
	a, b, c := sw.Endpoint("a"), sw.Endpoint("b"), sw.Endpoint("c")

	inA, _ := subscribe(t, a, "connector")
	inB, _ := subscribe(t, b, "connector")
	inC, _ := subscribe(t, c, "connector")
	inOther, _ := subscribe(t, sw.Endpoint("d"), "other")

	require.NoError(t, a.Publish("connector", []byte("hello")))

	assert.Equal(t, [][]byte{[]byte("hello")}, collect(inB, 50*time.Millisecond))
	assert.Equal(t, [][]byte{[]byte("hello")}, collect(inC, 0))
	assert.Empty(t, collect(inA, 0))
	assert.Empty(t, collect(inOther, 0))
}

func TestEndpointPreservesOrderPerSubscriber(t *testing.T) {
	sw := newTestSwitch()
	a, b := sw.Endpoint("a"), sw.Endpoint("b")
	inB, _ := subscribe(t, b, "connector")

	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, a.Publish("connector", []byte(m)))
	}

	assert.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, collect(inB, 50*time.Millisecond))
}

func TestEndpointCancel(t *testing.T) {
	sw := newTestSwitch()
	a, b := sw.Endpoint("a"), sw.Endpoint("b")
	inB, sub := subscribe(t, b, "connector")
	require.Equal(t, 1, sw.subscribers("connector"))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, sw.subscribers("connector"))

	require.NoError(t, a.Publish("connector", []byte("lost")))
	assert.Empty(t, collect(inB, 30*time.Millisecond))
}

func TestEndpointResubscribe(t *testing.T) {
	sw := newTestSwitch()
	a, b := sw.Endpoint("a"), sw.Endpoint("b")

	_, first := subscribe(t, b, "connector")
	inB, _ := subscribe(t, b, "connector")
	first.Cancel()

	require.NoError(t, a.Publish("connector", []byte("x")))
	assert.Equal(t, [][]byte{[]byte("x")}, collect(inB, 50*time.Millisecond))
}

func TestConnectForwardsWireFrames(t *testing.T) {
	sw := newTestSwitch()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wireA, wireB := model.NewWire(), model.NewWire()
	require.NoError(t, sw.Connect(ctx, "connector", "a", wireA))
	require.NoError(t, sw.Connect(ctx, "connector", "b", wireB))

	wireA.RX <- model.Frame{SRC: "a", Payload: []byte("ping")}

	select {
	case frame := <-wireB.TX:
		assert.Equal(t, "a", frame.SRC)
		assert.Equal(t, []byte("ping"), frame.Payload)
	case <-time.After(time.Second):
		t.Fatal("frame was not forwarded")
	}

	select {
	case <-wireA.TX:
		t.Fatal("frame echoed to its source")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, sw.Disconnect("connector", "b"))
	assert.Equal(t, 1, sw.subscribers("connector"))
}
