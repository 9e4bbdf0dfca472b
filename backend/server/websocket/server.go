// Package websocket serves the relay medium: every connection is attached to
// one channel of the broadcast switch and exchanges opaque binary frames with
// the other endpoints of that channel.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adwski/broadcast-link/backend/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultRelaySessionCloseTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	RelayService interface {
		CreateRelaySession(context.Context, string, string, model.Wire) error
		DeleteRelaySession(context.Context, string, string) error
	}

	Config struct {
		Logger       *zerolog.Logger
		RelayService RelayService
		ListenAddr   string
	}

	Server struct {
		svc RelayService
		ws  *websocket.Upgrader
		*http.Server

		// sessions outlive requests, they end with baseCtx
		baseCtx    context.Context
		baseCancel context.CancelFunc

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.RelayService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	srv.baseCtx, srv.baseCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/channel/{channel}/endpoint/{endpointID}", srv.relay)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.baseCancel()
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

// Close ends all relay sessions without stopping the listener.
func (srv *Server) Close() {
	srv.baseCancel()
}

func (srv *Server) relay(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	endpointID := r.PathValue("endpointID")
	if channel == "" || endpointID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var (
		wire        = model.NewWire()
		ctx, cancel = context.WithCancel(srv.baseCtx)
	)

	// attach before upgrade so a dialer that got 101 is already reachable
	if err := srv.svc.CreateRelaySession(ctx, channel, endpointID, wire); err != nil {
		srv.logger.Error().Err(err).Msg("failed to create relay session")
		cancel()
		w.WriteHeader(http.StatusConflict)
		return
	}

	logger := srv.logger.With().
		Str("channel", channel).
		Str("endpointID", endpointID).
		Logger()

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		cancel()
		srv.destroySession(channel, endpointID, &logger)
		return
	}
	logger.Debug().Msg("relay session created")

	go srv.handleWSConn(ctx, cancel, conn, channel, endpointID, wire, &logger)
}

func (srv *Server) destroySession(channel, endpointID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(defaultRelaySessionCloseTimeout))
	defer cancel()
	err := srv.svc.DeleteRelaySession(ctx, channel, endpointID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to delete relay session")
		return
	}
	logger.Debug().Msg("relay session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	channel string,
	endpointID string,
	wire model.Wire,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, endpointID, wire.RX, logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, logger)
		cancel()
		// unblocks receiver
		webSocketCloser(conn, logger)
	}()

	wg.Wait()
	srv.destroySession(channel, endpointID, logger)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Frame,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.PingMessage, []byte{}); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case frame, ok := <-tx:
			if !ok {
				break SendLoop
			}
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.BinaryMessage, frame.Payload); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing frame")
				break SendLoop
			}
			logger.Trace().Str("src", frame.SRC).Int("size", len(frame.Payload)).Msg("frame sent")
		}
	}
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	endpointID string,
	rx chan<- model.Frame,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Warn().Err(wsErr).Msg("receive interrupted")
				}
				break RecvLoop
			}

			select {
			case rx <- model.Frame{SRC: endpointID, Payload: msg}:
			case <-ctx.Done():
				break RecvLoop
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send websocket close message")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
