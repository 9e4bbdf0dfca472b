package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/adwski/broadcast-link/backend/codec"
	"github.com/adwski/broadcast-link/backend/config"
	"github.com/adwski/broadcast-link/backend/connection"
	"github.com/adwski/broadcast-link/backend/identity"
	"github.com/adwski/broadcast-link/backend/logging"
	"github.com/adwski/broadcast-link/backend/transport/redis"
	"github.com/adwski/broadcast-link/backend/transport/websocket"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)

	configFile := fs.String("config", "", "toml config file")
	overlay := config.BindPeerFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg := config.DefaultPeerConfig()
	if *configFile != "" {
		if err := config.LoadPeerFile(*configFile, &cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}
	overlay(&cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Name + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create readline")
	}
	defer func() { _ = rl.Close() }()

	rootLogger, err := logging.New(rl.Stderr(), cfg.LogLevel, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure logger")
	}
	logger = rootLogger

	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to select codec")
	}

	localID := identity.UUID().NewID()

	var tr connection.Transport
	switch cfg.Transport {
	case config.TransportRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		tr = redis.New(redis.Config{Client: rdb, EndpointID: localID, Logger: &logger})
	default:
		wsTr := websocket.New(websocket.Config{URL: cfg.RelayURL, EndpointID: localID, Logger: &logger})
		defer wsTr.Close()
		tr = wsTr
	}

	cons := newConsole(rl.Stdout(), cfg.Name, cfg.Dump)
	mgr, err := connection.New(connection.Config[chatMessage]{
		Transport:   tr,
		Channel:     cfg.Channel,
		Codec:       c,
		IDGenerator: identity.Fixed(localID),
		Keepalive:   cfg.Keepalive(),
		Handler:     cons.receive,
		Events: connection.Events{
			OnConnecting:   cons.onConnecting,
			OnConnected:    cons.onConnected,
			OnDisconnected: cons.onDisconnected,
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create connection manager")
	}
	cons.sess = mgr
	defer mgr.Disconnect()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = mgr.Connect(); err != nil {
		cons.fail(err)
	}
	cons.run(ctx, rl)
}
