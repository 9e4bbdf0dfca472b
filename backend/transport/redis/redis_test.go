package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/broadcast-link/backend/connection"
	"github.com/adwski/broadcast-link/backend/identity"
	"github.com/adwski/broadcast-link/backend/keepalive"
	"github.com/adwski/broadcast-link/backend/model"
)

func newTransport(t *testing.T, mr *miniredis.Miniredis, id string) *Transport {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := zerolog.Nop()
	return New(Config{Client: rdb, EndpointID: id, Logger: &logger})
}

func TestPublishReachesOthersOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := newTransport(t, mr, "a"), newTransport(t, mr, "b")

	inA, inB := make(chan []byte, 4), make(chan []byte, 4)
	subA, err := a.Subscribe("connector", func(msg []byte) { inA <- msg })
	require.NoError(t, err)
	defer subA.Cancel()
	subB, err := b.Subscribe("connector", func(msg []byte) { inB <- msg })
	require.NoError(t, err)
	defer subB.Cancel()

	require.NoError(t, a.Publish("connector", []byte(`{"type":"syn"}`)))

	select {
	case msg := <-inB:
		assert.Equal(t, []byte(`{"type":"syn"}`), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case <-inA:
		t.Fatal("message echoed to publisher")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForeignPayloadIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newTransport(t, mr, "b")

	inB := make(chan []byte, 4)
	sub, err := b.Subscribe("connector", func(msg []byte) { inB <- msg })
	require.NoError(t, err)
	defer sub.Cancel()

	mr.Publish("connector", "plain text")

	select {
	case <-inB:
		t.Fatal("foreign payload delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	a, b := newTransport(t, mr, "a"), newTransport(t, mr, "b")

	inB := make(chan []byte, 4)
	sub, err := b.Subscribe("connector", func(msg []byte) { inB <- msg })
	require.NoError(t, err)
	sub.Cancel()
	sub.Cancel()

	require.NoError(t, a.Publish("connector", []byte("late")))
	select {
	case <-inB:
		t.Fatal("delivered after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFailsWithoutServer(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer func() { _ = rdb.Close() }()
	logger := zerolog.Nop()
	a := New(Config{Client: rdb, EndpointID: "a", Logger: &logger})

	_, err := a.Subscribe("connector", func([]byte) {})
	require.ErrorIs(t, err, ErrSubscribe)
}

func TestSessionOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zerolog.Nop()
	ka := keepalive.Config{Interval: time.Minute, ReplyDelay: time.Millisecond}

	received := make(chan string, 1)
	a, err := connection.New(connection.Config[string]{
		Transport:   newTransport(t, mr, "a"),
		IDGenerator: identity.Fixed("a"),
		Keepalive:   ka,
		Logger:      &logger,
	})
	require.NoError(t, err)
	defer a.Disconnect()
	b, err := connection.New(connection.Config[string]{
		Transport:   newTransport(t, mr, "b"),
		IDGenerator: identity.Fixed("b"),
		Keepalive:   ka,
		Handler:     func(s string) { received <- s },
		Logger:      &logger,
	})
	require.NoError(t, err)
	defer b.Disconnect()

	require.NoError(t, a.Connect())
	require.NoError(t, b.Connect())
	require.Eventually(t, func() bool {
		return a.State().Status == model.StatusConnected && b.State().Status == model.StatusConnected
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, a.Send("hello"))
	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
