package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/adwski/broadcast-link/backend/model"
)

var (
	ErrChannelFull     = errors.New("channel is full")
	ErrChannelNotFound = errors.New("channel is not found")
	ErrEndpointExists  = errors.New("endpoint is already joined")
)

// MemStore tracks which endpoints are attached to which relay channel.
type MemStore struct {
	mx           *sync.Mutex
	db           map[string]*model.Channel
	maxEndpoints int
}

// NewMemStore creates a store. Zero maxEndpoints means no limit.
func NewMemStore(maxEndpoints int) *MemStore {
	return &MemStore{
		mx:           &sync.Mutex{},
		db:           make(map[string]*model.Channel),
		maxEndpoints: maxEndpoints,
	}
}

func (ms *MemStore) Join(channel string, endpointID string) (*model.Channel, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ch, ok := ms.db[channel]
	if !ok {
		ch = &model.Channel{
			Name:      channel,
			Endpoints: make(map[string]model.Endpoint),
		}
		ms.db[channel] = ch
	}

	if _, ok = ch.Endpoints[endpointID]; ok {
		return nil, ErrEndpointExists
	}
	if ms.maxEndpoints > 0 && len(ch.Endpoints) >= ms.maxEndpoints {
		return nil, ErrChannelFull
	}

	ch.Endpoints[endpointID] = model.Endpoint{
		ID:       endpointID,
		JoinedAt: time.Now(),
	}
	return copyChannel(ch), nil
}

func (ms *MemStore) Leave(channel string, endpointID string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ch, ok := ms.db[channel]
	if !ok {
		return ErrChannelNotFound
	}
	delete(ch.Endpoints, endpointID)
	if len(ch.Endpoints) == 0 {
		delete(ms.db, channel)
	}
	return nil
}

func (ms *MemStore) GetChannel(channel string) (*model.Channel, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ch, ok := ms.db[channel]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return copyChannel(ch), nil
}

func copyChannel(ch *model.Channel) *model.Channel {
	out := &model.Channel{
		Name:      ch.Name,
		Endpoints: make(map[string]model.Endpoint, len(ch.Endpoints)),
	}
	for id, ep := range ch.Endpoints {
		out.Endpoints[id] = ep
	}
	return out
}
