package _switch

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/adwski/broadcast-link/backend/model"
)

// Endpoint is an in-process participant of the switch. It satisfies the
// broadcast transport contract: everything it publishes reaches every other
// subscription on the channel, never its own.
type Endpoint struct {
	sw  *Switch
	id  string
	seq atomic.Uint64
}

func (sw *Switch) Endpoint(id string) *Endpoint {
	return &Endpoint{sw: sw, id: id}
}

func (e *Endpoint) ID() string {
	return e.id
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe delivers payloads of other endpoints to onMessage, one at a time
// and in arrival order, until the subscription is cancelled.
func (e *Endpoint) Subscribe(channel string, onMessage func([]byte)) (model.Subscription, error) {
	var (
		key         = e.id + "#" + strconv.FormatUint(e.seq.Add(1), 10)
		wire        = model.NewWire()
		ctx, cancel = context.WithCancel(context.Background())
	)
	e.sw.attach(channel, key, e.id, wire)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-wire.TX:
				onMessage(frame.Payload)
			}
		}
	}()

	return &subscription{cancel: func() {
		cancel()
		_ = e.sw.Disconnect(channel, key)
	}}, nil
}

func (e *Endpoint) Publish(channel string, msg []byte) error {
	payload := make([]byte, len(msg))
	copy(payload, msg)
	return e.sw.Broadcast(context.Background(), model.Frame{SRC: e.id, Payload: payload}, channel)
}
