// Package redis implements the broadcast transport on top of Redis
// PUBLISH/SUBSCRIBE. Redis delivers a message to every subscriber including
// the publisher, so every message is framed with the publishing endpoint id
// and own frames are dropped on receipt.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/adwski/broadcast-link/backend/model"
)

const (
	defaultPublishTimeout   = 3 * time.Second
	defaultSubscribeTimeout = 3 * time.Second
)

var (
	ErrSubscribe = errors.New("redis subscribe failed")
	ErrPublish   = errors.New("redis publish failed")
)

type (
	Config struct {
		Client     *goredis.Client
		EndpointID string
		Logger     *zerolog.Logger
	}

	Transport struct {
		rdb    *goredis.Client
		id     string
		logger zerolog.Logger
	}

	subscription struct {
		once   sync.Once
		cancel context.CancelFunc
		ps     *goredis.PubSub
		logger *zerolog.Logger
	}
)

func New(cfg Config) *Transport {
	return &Transport{
		rdb: cfg.Client,
		id:  cfg.EndpointID,
		logger: cfg.Logger.With().
			Str("component", "redis-transport").
			Str("endpoint", cfg.EndpointID).
			Logger(),
	}
}

func (t *Transport) Subscribe(channel string, onMessage func([]byte)) (model.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	ps := t.rdb.Subscribe(ctx, channel)

	// wait for confirmation, otherwise early publishes could be missed
	rCtx, rCancel := context.WithTimeout(ctx, defaultSubscribeTimeout)
	defer rCancel()
	if _, err := ps.Receive(rCtx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, errors.Join(ErrSubscribe, err)
	}

	logger := t.logger.With().Str("channel", channel).Logger()
	go t.receive(ps.Channel(), onMessage, &logger)

	logger.Debug().Msg("subscribed")
	return &subscription{cancel: cancel, ps: ps, logger: &logger}, nil
}

func (t *Transport) receive(ch <-chan *goredis.Message, onMessage func([]byte), logger *zerolog.Logger) {
	for msg := range ch {
		var frame model.Frame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			logger.Trace().Err(err).Msg("dropping foreign redis message")
			continue
		}
		if frame.SRC == t.id {
			continue
		}
		onMessage(frame.Payload)
	}
}

func (t *Transport) Publish(channel string, msg []byte) error {
	b, err := json.Marshal(&model.Frame{SRC: t.id, Payload: msg})
	if err != nil {
		return errors.Join(ErrPublish, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err = t.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return errors.Join(ErrPublish, err)
	}
	return nil
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		if err := s.ps.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close redis subscription")
		}
		s.logger.Debug().Msg("unsubscribed")
	})
}
