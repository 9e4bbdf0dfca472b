package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/broadcast-link/backend/service"
	store "github.com/adwski/broadcast-link/backend/storage/memory"
	sw "github.com/adwski/broadcast-link/backend/switch"
)

func newRelay(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		ChannelStore: store.NewMemStore(0),
		Switch:       sw.NewSwitch(&logger),
		Logger:       &logger,
	})
	srv := NewServer(Config{Logger: &logger, RelayService: svc})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, svc
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn, wait time.Duration) ([]byte, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, msg, err := conn.ReadMessage()
	return msg, err
}

func TestRelayBroadcastsToOthers(t *testing.T) {
	ts, _ := newRelay(t)

	a := dial(t, ts, "/channel/connector/endpoint/a")
	b := dial(t, ts, "/channel/connector/endpoint/b")
	c := dial(t, ts, "/channel/connector/endpoint/c")

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	for _, conn := range []*websocket.Conn{b, c} {
		msg, err := read(t, conn, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), msg)
	}

	_, err := read(t, a, 100*time.Millisecond)
	require.Error(t, err, "publisher must not receive its own frame")
}

func TestRelayChannelsAreIsolated(t *testing.T) {
	ts, _ := newRelay(t)

	a := dial(t, ts, "/channel/one/endpoint/a")
	b := dial(t, ts, "/channel/two/endpoint/b")

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("hello")))
	_, err := read(t, b, 100*time.Millisecond)
	require.Error(t, err)
}

func TestRelayRejectsDuplicateEndpoint(t *testing.T) {
	ts, _ := newRelay(t)

	dial(t, ts, "/channel/connector/endpoint/a")

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/channel/connector/endpoint/a"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRelaySessionEndsOnClose(t *testing.T) {
	ts, svc := newRelay(t)

	a := dial(t, ts, "/channel/connector/endpoint/a")
	ch, err := svc.GetChannel("connector")
	require.NoError(t, err)
	assert.Contains(t, ch.Endpoints, "a")

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		_, err = svc.GetChannel("connector")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	// endpoint id is free again
	dial(t, ts, "/channel/connector/endpoint/a")
}
