// Package websocket implements the broadcast transport as a client of the
// relay server. Each subscription is a separate websocket session attached
// to the relay channel; the relay never returns a frame to its sender.
package websocket

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adwski/broadcast-link/backend/model"
)

const (
	defaultHandshakeTimeout   = 3 * time.Second
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second
	defaultMaxMessageSize     = 9000
	defaultScheme             = "ws"
)

var (
	ErrSubscribe     = errors.New("relay subscribe failed")
	ErrPublish       = errors.New("relay publish failed")
	ErrNotSubscribed = errors.New("not subscribed to channel")
	ErrClosed        = errors.New("transport is closed")
)

type (
	Config struct {
		Logger *zerolog.Logger
		// Dialer is optional.
		Dialer *websocket.Dialer
		// URL is the relay base address, e.g. ws://127.0.0.1:8888.
		URL        string
		EndpointID string
	}

	Transport struct {
		dialer   *websocket.Dialer
		base     string
		id       string
		logger   zerolog.Logger
		seq      atomic.Uint64
		mx       sync.Mutex
		sessions map[string]*session
		closed   bool
	}

	session struct {
		t       *Transport
		conn    *websocket.Conn
		channel string
		wmx     sync.Mutex
		once    sync.Once
		logger  zerolog.Logger
	}
)

func New(cfg Config) *Transport {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	base := strings.TrimRight(cfg.URL, "/")
	if !strings.Contains(base, "://") {
		base = defaultScheme + "://" + base
	}
	return &Transport{
		dialer:   dialer,
		base:     base,
		id:       cfg.EndpointID,
		sessions: make(map[string]*session),
		logger: cfg.Logger.With().
			Str("component", "relay-transport").
			Str("endpoint", cfg.EndpointID).
			Logger(),
	}
}

// Subscribe opens a relay session for channel. Relay endpoint names are
// unique per session so a quick resubscribe never collides with a session
// the relay has not yet released.
func (t *Transport) Subscribe(channel string, onMessage func([]byte)) (model.Subscription, error) {
	t.mx.Lock()
	closed := t.closed
	t.mx.Unlock()
	if closed {
		return nil, ErrClosed
	}

	endpoint := t.id + "-" + strconv.FormatUint(t.seq.Add(1), 10)
	u := t.base + "/channel/" + url.PathEscape(channel) + "/endpoint/" + url.PathEscape(endpoint)

	conn, resp, err := t.dialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Join(ErrSubscribe, err)
	}
	conn.SetReadLimit(defaultMaxMessageSize)

	s := &session{
		t:       t,
		conn:    conn,
		channel: channel,
		logger: t.logger.With().
			Str("channel", channel).
			Str("session", endpoint).
			Logger(),
	}

	t.mx.Lock()
	if t.closed {
		t.mx.Unlock()
		s.close()
		return nil, ErrClosed
	}
	prev := t.sessions[channel]
	t.sessions[channel] = s
	t.mx.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	go s.receive(onMessage)

	s.logger.Debug().Msg("subscribed")
	return s, nil
}

func (t *Transport) Publish(channel string, msg []byte) error {
	t.mx.Lock()
	s, ok := t.sessions[channel]
	t.mx.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	if err := s.write(msg); err != nil {
		return errors.Join(ErrPublish, err)
	}
	return nil
}

// Close cancels every open session. Further subscribes fail with ErrClosed.
func (t *Transport) Close() {
	t.mx.Lock()
	t.closed = true
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mx.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
}

func (t *Transport) release(s *session) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.sessions[s.channel] == s {
		delete(t.sessions, s.channel)
	}
}

func (s *session) write(msg []byte) error {
	s.wmx.Lock()
	defer s.wmx.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *session) receive(onMessage func([]byte)) {
	defer s.Cancel()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Msg("relay session closed")
			} else {
				s.logger.Debug().Err(err).Msg("relay session interrupted")
			}
			return
		}
		onMessage(msg)
	}
}

func (s *session) Cancel() {
	s.once.Do(func() {
		s.t.release(s)
		s.close()
		s.logger.Debug().Msg("unsubscribed")
	})
}

func (s *session) close() {
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseWriteDeadline))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Trace().Err(err).Msg("failed to send close message")
	}
	if err = s.conn.Close(); err != nil {
		s.logger.Trace().Err(err).Msg("failed to close connection")
	}
}
