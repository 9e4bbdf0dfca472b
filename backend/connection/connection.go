// Package connection establishes an exclusive two-party session on top of a
// broadcast-only transport.
//
// A Manager subscribes to a named channel, announces itself with a SYN and
// runs the handshake against whatever answers first. Once the handshake
// completes the remote id is fixed: user messages and pings of any other
// listener are dropped from then on. A keepalive detects silent peers and
// tears the session down without caller involvement.
//
// Lifecycle changes are reported through Events, exactly one callback per
// change. Callbacks and the payload handler run outside of the manager lock,
// so they may call Send or Disconnect.
package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adwski/broadcast-link/backend/codec"
	"github.com/adwski/broadcast-link/backend/handshake"
	"github.com/adwski/broadcast-link/backend/identity"
	"github.com/adwski/broadcast-link/backend/keepalive"
	"github.com/adwski/broadcast-link/backend/model"
)

const (
	DefaultChannel = "connector"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("connection not ready yet")
	ErrSubscribe        = errors.New("unable to subscribe")
	ErrPublish          = errors.New("unable to publish")
	ErrNoTransport      = errors.New("transport is not set")
)

type (
	// Transport is a named publish/subscribe medium. Published messages are
	// delivered to every other current subscriber of the channel but never
	// to the publisher's own subscriptions.
	Transport interface {
		Subscribe(channel string, onMessage func([]byte)) (model.Subscription, error)
		Publish(channel string, msg []byte) error
	}

	Events struct {
		OnConnecting   func()
		OnConnected    func()
		OnDisconnected func()
	}

	Config[T any] struct {
		Transport   Transport
		Channel     string
		Codec       codec.Codec
		IDGenerator identity.Generator
		Keepalive   keepalive.Config
		Handler     func(T)
		Events      Events
		Logger      *zerolog.Logger
	}

	Manager[T any] struct {
		tr      Transport
		codec   codec.Codec
		channel string
		localID string
		kaCfg   keepalive.Config
		handler func(T)
		events  Events
		logger  zerolog.Logger

		mx       sync.Mutex
		status   model.Status
		remoteID string
		gen      uint64
		cur      *attempt
	}
)

// attempt is the cancellation scope of one Connect call. Every callback
// captures its attempt and turns into a no-op once it is not current.
type attempt struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	sub    model.Subscription
	ka     *keepalive.Keepalive
}

// effects collects what has to happen after the lock is released.
type effects[T any] struct {
	out       []model.Message
	connected *attempt
	payload   *T
}

func New[T any](cfg Config[T]) (*Manager[T], error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON()
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = identity.UUID()
	}
	if cfg.Keepalive == (keepalive.Config{}) {
		cfg.Keepalive = keepalive.DefaultConfig()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	localID := cfg.IDGenerator.NewID()
	return &Manager[T]{
		tr:      cfg.Transport,
		codec:   cfg.Codec,
		channel: cfg.Channel,
		localID: localID,
		kaCfg:   cfg.Keepalive,
		handler: cfg.Handler,
		events:  cfg.Events,
		logger: logger.With().
			Str("component", "connection").
			Str("channel", cfg.Channel).
			Str("localID", localID).
			Logger(),
	}, nil
}

func (m *Manager[T]) LocalID() string {
	return m.localID
}

func (m *Manager[T]) State() model.ConnectionState {
	m.mx.Lock()
	defer m.mx.Unlock()
	return model.ConnectionState{
		Status:   m.status,
		LocalID:  m.localID,
		RemoteID: m.remoteID,
	}
}

// Connect subscribes to the channel and announces the local participant.
// It returns as soon as the SYN is published, completion is reported via
// Events.OnConnected. Calling Connect while a handshake is in flight starts
// over with a fresh subscription.
func (m *Manager[T]) Connect() error {
	m.mx.Lock()
	if m.status == model.StatusConnected {
		m.mx.Unlock()
		return ErrAlreadyConnected
	}
	prev := m.cur
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	at := &attempt{gen: m.gen, ctx: ctx, cancel: cancel}
	m.cur = at
	m.status = model.StatusConnecting
	m.mx.Unlock()

	if prev != nil {
		prev.close()
	}
	m.logger.Debug().Uint64("attempt", at.gen).Msg("connecting")
	m.notify(model.StatusConnecting)

	sub, err := m.tr.Subscribe(m.channel, func(data []byte) {
		m.dispatch(at, data)
	})
	if err != nil {
		m.disconnect(at)
		return errors.Join(ErrSubscribe, err)
	}

	m.mx.Lock()
	if m.cur != at {
		// torn down while subscribing
		m.mx.Unlock()
		sub.Cancel()
		return nil
	}
	at.sub = sub
	m.mx.Unlock()

	if err = m.publish(model.NewSyn(model.Entity{ID: m.localID})); err != nil {
		m.disconnect(at)
		return errors.Join(ErrPublish, err)
	}
	return nil
}

// Send publishes payload to the connected peer.
func (m *Manager[T]) Send(payload T) error {
	m.mx.Lock()
	connected := m.status == model.StatusConnected
	m.mx.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if err := m.publish(model.NewUserMessage(m.localID, payload)); err != nil {
		return errors.Join(ErrPublish, err)
	}
	return nil
}

// Disconnect tears the current session down. It is safe to call at any time.
func (m *Manager[T]) Disconnect() {
	m.mx.Lock()
	at := m.cur
	m.mx.Unlock()

	if at != nil {
		m.disconnect(at)
	}
}

func (m *Manager[T]) disconnect(at *attempt) {
	m.mx.Lock()
	if m.cur != at {
		m.mx.Unlock()
		return
	}
	m.cur = nil
	m.status = model.StatusDisconnected
	m.remoteID = ""
	m.mx.Unlock()

	at.close()
	m.logger.Debug().Uint64("attempt", at.gen).Msg("disconnected")
	m.notify(model.StatusDisconnected)
}

// close must be called after the attempt stopped being current.
func (at *attempt) close() {
	at.cancel()
	if at.sub != nil {
		at.sub.Cancel()
	}
	if at.ka != nil {
		at.ka.Stop()
	}
}

func (m *Manager[T]) dispatch(at *attempt, data []byte) {
	typ, err := codec.TypeOf(m.codec, data)
	if err != nil {
		m.logger.Trace().Err(err).Msg("dropping foreign message")
		return
	}

	var fx effects[T]

	m.mx.Lock()
	if m.cur != at {
		m.mx.Unlock()
		return
	}
	switch {
	case handshake.IsHandshake(typ) && m.status != model.StatusConnected:
		m.handleHandshake(at, data, &fx)

	case typ == model.MessageTypePing && m.status == model.StatusConnected:
		var ping model.Ping
		if err = m.codec.Unmarshal(data, &ping); err == nil && ping.ID == m.remoteID {
			at.ka.PingReceived()
		}

	case typ == model.MessageTypeUserMessage && m.status == model.StatusConnected:
		var msg model.UserMessage[T]
		if err = m.codec.Unmarshal(data, &msg); err == nil && msg.ID == m.remoteID {
			fx.payload = &msg.Data
		}

	default:
		m.logger.Trace().Str("type", string(typ)).Msg("message ignored")
	}
	m.mx.Unlock()

	if err != nil {
		m.logger.Trace().Err(err).Str("type", string(typ)).Msg("dropping malformed message")
	}
	m.apply(fx)
}

// handleHandshake runs under the lock.
func (m *Manager[T]) handleHandshake(at *attempt, data []byte, fx *effects[T]) {
	msg, err := handshake.Decode(m.codec, data)
	if err != nil {
		m.logger.Trace().Err(err).Msg("dropping malformed handshake")
		return
	}
	m.logger.Trace().Str("type", string(msg.MessageType())).Msg("handshake message")

	err = handshake.Handle(msg, m.localID,
		func(out model.Message) {
			fx.out = append(fx.out, out)
		},
		func(remoteID string) {
			m.status = model.StatusConnected
			m.remoteID = remoteID
			at.ka = keepalive.New(m.kaCfg,
				func() error { return m.sendPing(at) },
				func() { m.disconnect(at) },
				&m.logger)
			fx.connected = at
		})
	if err != nil {
		m.logger.Error().Err(err).Msg("handshake failed")
	}
}

func (m *Manager[T]) apply(fx effects[T]) {
	for _, msg := range fx.out {
		if err := m.publish(msg); err != nil {
			m.logger.Warn().Err(err).Str("type", string(msg.MessageType())).Msg("failed to publish handshake reply")
		}
	}
	if at := fx.connected; at != nil && m.startKeepalive(at) {
		m.notify(model.StatusConnected)
	}
	if fx.payload != nil && m.handler != nil {
		m.handler(*fx.payload)
	}
}

// startKeepalive runs after the ack is published so the first ping cannot
// overtake it. It reports false if the attempt was torn down meanwhile.
func (m *Manager[T]) startKeepalive(at *attempt) bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.cur != at || m.status != model.StatusConnected {
		return false
	}
	at.ka.Start(at.ctx)
	m.logger.Debug().
		Str("remoteID", m.remoteID).
		Dur("detectionDelay", m.kaCfg.DetectionDelay()).
		Msg("connected")
	return true
}

func (m *Manager[T]) sendPing(at *attempt) error {
	m.mx.Lock()
	current := m.cur == at
	m.mx.Unlock()

	if !current {
		return nil
	}
	return m.publish(model.NewPing(m.localID))
}

func (m *Manager[T]) publish(msg model.Message) error {
	b, err := m.codec.Marshal(msg)
	if err != nil {
		return err
	}
	return m.tr.Publish(m.channel, b)
}

func (m *Manager[T]) notify(status model.Status) {
	var cb func()
	switch status {
	case model.StatusConnecting:
		cb = m.events.OnConnecting
	case model.StatusConnected:
		cb = m.events.OnConnected
	case model.StatusDisconnected:
		cb = m.events.OnDisconnected
	}
	if cb != nil {
		cb()
	}
}
