package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/broadcast-link/backend/model"
	store "github.com/adwski/broadcast-link/backend/storage/memory"
)

type fakeSwitch struct {
	connectErr error
	connected  map[string]bool
}

func (fs *fakeSwitch) Connect(_ context.Context, channel, endpointID string, _ model.Wire) error {
	if fs.connectErr != nil {
		return fs.connectErr
	}
	fs.connected[channel+"/"+endpointID] = true
	return nil
}

func (fs *fakeSwitch) Disconnect(channel, endpointID string) error {
	delete(fs.connected, channel+"/"+endpointID)
	return nil
}

func newTestService(fs *fakeSwitch) *Service {
	logger := zerolog.Nop()
	return NewService(Config{
		ChannelStore: store.NewMemStore(2),
		Switch:       fs,
		Logger:       &logger,
	})
}

func TestRelaySessionLifecycle(t *testing.T) {
	fs := &fakeSwitch{connected: make(map[string]bool)}
	svc := newTestService(fs)

	require.NoError(t, svc.CreateRelaySession(context.Background(), "connector", "a", model.NewWire()))
	assert.True(t, fs.connected["connector/a"])

	ch, err := svc.GetChannel("connector")
	require.NoError(t, err)
	assert.Contains(t, ch.Endpoints, "a")

	err = svc.CreateRelaySession(context.Background(), "connector", "a", model.NewWire())
	require.ErrorIs(t, err, ErrAttach)
	require.ErrorIs(t, err, store.ErrEndpointExists)

	require.NoError(t, svc.DeleteRelaySession(context.Background(), "connector", "a"))
	assert.False(t, fs.connected["connector/a"])

	_, err = svc.GetChannel("connector")
	require.ErrorIs(t, err, ErrGet)
	require.ErrorIs(t, err, store.ErrChannelNotFound)

	require.ErrorIs(t, svc.DeleteRelaySession(context.Background(), "connector", "a"), ErrDetach)
}

func TestRelaySessionRollback(t *testing.T) {
	fs := &fakeSwitch{connected: make(map[string]bool), connectErr: errors.New("boom")}
	svc := newTestService(fs)

	err := svc.CreateRelaySession(context.Background(), "connector", "a", model.NewWire())
	require.ErrorIs(t, err, ErrAttach)

	_, err = svc.GetChannel("connector")
	require.ErrorIs(t, err, store.ErrChannelNotFound)
}

func TestRelaySessionChannelFull(t *testing.T) {
	fs := &fakeSwitch{connected: make(map[string]bool)}
	svc := newTestService(fs)

	require.NoError(t, svc.CreateRelaySession(context.Background(), "connector", "a", model.NewWire()))
	require.NoError(t, svc.CreateRelaySession(context.Background(), "connector", "b", model.NewWire()))

	err := svc.CreateRelaySession(context.Background(), "connector", "c", model.NewWire())
	require.ErrorIs(t, err, store.ErrChannelFull)
	assert.False(t, fs.connected["connector/c"])
}
