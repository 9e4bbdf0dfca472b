// Package keepalive detects silent loss of the remote participant.
//
// Both sides ping on start and answer every ping of the counterpart after a
// short delay, so a healthy session keeps a steady ping exchange going. The
// monitor ticks once per Interval: the first tick without any received ping
// marks the peer as missed, the second one declares it lost. A single lost
// ping is therefore tolerated.
package keepalive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultReplyDelay = 100 * time.Millisecond
)

type Config struct {
	// Interval between liveness checks.
	Interval time.Duration

	// ReplyDelay is how long to wait before answering a received ping.
	ReplyDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   DefaultInterval,
		ReplyDelay: DefaultReplyDelay,
	}
}

// DetectionDelay is the longest time a silent peer goes unnoticed.
func (c Config) DetectionDelay() time.Duration {
	return 2 * c.Interval
}

type Keepalive struct {
	cfg    Config
	logger zerolog.Logger

	send   func() error
	onLost func()

	// pending counts pings not yet answered, pings only wakes the loop
	pending atomic.Int64
	pings   chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a keepalive. send publishes one ping of the local participant,
// onLost is invoked at most once per Start when the peer is declared lost.
func New(cfg Config, send func() error, onLost func(), logger *zerolog.Logger) *Keepalive {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReplyDelay < 0 {
		cfg.ReplyDelay = DefaultReplyDelay
	}
	return &Keepalive{
		cfg:    cfg,
		logger: logger.With().Str("component", "keepalive").Logger(),
		send:   send,
		onLost: onLost,
		pings:  make(chan struct{}, 1),
	}
}

// Start launches the monitor. It does not block, the initial ping is
// published from the monitor goroutine. Cancelling ctx has the same effect
// as Stop.
func (ka *Keepalive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ka.running = true
	ka.cancel = cancel

	go ka.loop(ctx)
}

// Stop halts the monitor and suppresses replies that are still pending.
func (ka *Keepalive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	ka.cancel()
}

func (ka *Keepalive) isRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// PingReceived must be called for every ping of the remote participant.
// Each call gets its own reply.
func (ka *Keepalive) PingReceived() {
	ka.pending.Add(1)
	select {
	case ka.pings <- struct{}{}:
	default:
		// a signal is already pending
	}
}

func (ka *Keepalive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.cfg.Interval)
	defer ticker.Stop()

	ka.ping(ctx)

	alive := true
	for {
		select {
		case <-ctx.Done():
			return

		case <-ka.pings:
			alive = true
			n := ka.pending.Swap(0)
			ka.logger.Trace().Int64("count", n).Msg("got ping")
			for range n {
				time.AfterFunc(ka.cfg.ReplyDelay, func() {
					ka.ping(ctx)
				})
			}

		case <-ticker.C:
			if alive {
				alive = false
				continue
			}
			ka.lost(ctx)
			return
		}
	}
}

func (ka *Keepalive) ping(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := ka.send(); err != nil {
		// a failed ping is just another missed one
		ka.logger.Warn().Err(err).Msg("failed to send ping")
		return
	}
	ka.logger.Trace().Msg("ping sent")
}

func (ka *Keepalive) lost(ctx context.Context) {
	ka.mu.Lock()
	if ctx.Err() != nil {
		ka.mu.Unlock()
		return
	}
	ka.running = false
	ka.cancel()
	ka.mu.Unlock()

	ka.logger.Warn().Msg("peer disconnected")
	if ka.onLost != nil {
		ka.onLost()
	}
}
