package service

import (
	"context"
	"errors"

	"github.com/adwski/broadcast-link/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrGet    = errors.New("unable to get channel")
	ErrAttach = errors.New("unable to attach endpoint")
	ErrDetach = errors.New("unable to detach endpoint")
)

type (
	ChannelStore interface {
		Join(channel string, endpointID string) (*model.Channel, error)
		Leave(channel string, endpointID string) error
		GetChannel(channel string) (*model.Channel, error)
	}

	Switch interface {
		Connect(ctx context.Context, channel string, endpointID string, wire model.Wire) error
		Disconnect(channel string, endpointID string) error
	}

	// Service binds relay sessions to the broadcast switch.
	Service struct {
		store  ChannelStore
		sw     Switch
		logger zerolog.Logger
	}

	Config struct {
		ChannelStore ChannelStore
		Switch       Switch
		Logger       *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.ChannelStore,
		sw:     cfg.Switch,
		logger: cfg.Logger.With().Str("component", "relay").Logger(),
	}
}

func (svc *Service) CreateRelaySession(ctx context.Context, channel, endpointID string, wire model.Wire) error {
	if _, err := svc.store.Join(channel, endpointID); err != nil {
		return errors.Join(ErrAttach, err)
	}
	if err := svc.sw.Connect(ctx, channel, endpointID, wire); err != nil {
		if errL := svc.store.Leave(channel, endpointID); errL != nil {
			svc.logger.Error().Err(errL).Msg("failed to roll back channel membership")
		}
		return errors.Join(ErrAttach, err)
	}
	svc.logger.Debug().
		Str("endpointID", endpointID).
		Str("channel", channel).
		Msg("relay session attached")
	return nil
}

func (svc *Service) DeleteRelaySession(_ context.Context, channel, endpointID string) error {
	err := svc.sw.Disconnect(channel, endpointID)
	if errL := svc.store.Leave(channel, endpointID); errL != nil {
		err = errors.Join(err, errL)
	}
	if err != nil {
		return errors.Join(ErrDetach, err)
	}
	svc.logger.Debug().
		Str("endpointID", endpointID).
		Str("channel", channel).
		Msg("relay session detached")
	return nil
}

func (svc *Service) GetChannel(channel string) (*model.Channel, error) {
	ch, err := svc.store.GetChannel(channel)
	if err != nil {
		return nil, errors.Join(ErrGet, err)
	}
	return ch, nil
}
