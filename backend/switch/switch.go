package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/adwski/broadcast-link/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

// port is one attached wire. Frames are never forwarded to ports of the
// frame's own source.
type port struct {
	owner string
	wire  model.Wire
}

type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]map[string]port
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]port),
	}
}

func (sw *Switch) Disconnect(channel, endpoint string) error {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("channel", channel).
			Str("endpoint", endpoint).
			Msg("endpoint disconnected")
	}()

	ch, ok := sw.fwd[channel]
	if ok {
		delete(ch, endpoint)
		if len(ch) == 0 {
			delete(sw.fwd, channel)
		}
	}
	return nil
}

// Connect attaches endpoint to channel. Frames read from wire.RX are
// broadcast to the channel until ctx is done, frames of other endpoints
// are written to wire.TX.
func (sw *Switch) Connect(ctx context.Context, channel string, endpoint string, wire model.Wire) error {
	sw.attach(channel, endpoint, endpoint, wire)
	go sw.forwardFrames(ctx, channel, wire.RX)
	return nil
}

func (sw *Switch) attach(channel, key, owner string, wire model.Wire) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("channel", channel).
			Str("endpoint", key).
			Msg("endpoint connected")
	}()

	ch, ok := sw.fwd[channel]
	if !ok {
		ch = make(map[string]port)
		sw.fwd[channel] = ch
	}
	ch[key] = port{owner: owner, wire: wire}
}

func (sw *Switch) forwardFrames(ctx context.Context, channel string, rx <-chan model.Frame) {
fwdLoop:
	for {
		select {
		case <-ctx.Done():
			break fwdLoop
		case frame := <-rx:
			if frame.SRC == "" {
				sw.logger.Error().
					Str("channel", channel).
					Msg("frame with empty src")
			} else {
				if !sw.forward(ctx, frame, channel) {
					sw.logger.Debug().
						Str("channel", channel).
						Str("src", frame.SRC).
						Msg("incoming frame was dropped, nowhere to forward")
				}
			}
		}
	}
}

func (sw *Switch) Broadcast(ctx context.Context, frame model.Frame, channel string) error {
	if !sw.forward(ctx, frame, channel) {
		sw.logger.Debug().
			Str("channel", channel).
			Str("src", frame.SRC).
			Msg("broadcast did not reach anyone")
	}
	return nil
}

// subscribers returns the number of wires attached to channel.
func (sw *Switch) subscribers(channel string) int {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return len(sw.fwd[channel])
}

func (sw *Switch) forward(ctx context.Context, frame model.Frame, channel string) bool {
	var (
		sent   bool
		logger = sw.logger.With().
			Str("channel", channel).
			Str("src", frame.SRC).Logger()
	)

	sw.mx.RLock()
	dst := make(map[string]port, len(sw.fwd[channel]))
	for key, p := range sw.fwd[channel] {
		dst[key] = p
	}
	sw.mx.RUnlock()

	for key, p := range dst {
		if p.owner == frame.SRC {
			continue
		}
		frameSent, canceled := send(ctx, key, frame, p.wire.TX, &logger)
		if canceled {
			break
		}
		if frameSent {
			sent = true
		}
	}
	return sent
}

func send(ctx context.Context, dst string, frame model.Frame, tx chan<- model.Frame, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Str("dst", dst).Msg("dead endpoint")
	case tx <- frame:
		logger.Trace().Str("dst", dst).Msg("frame is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
