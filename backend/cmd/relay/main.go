package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/adwski/broadcast-link/backend/config"
	"github.com/adwski/broadcast-link/backend/logging"
	httpServer "github.com/adwski/broadcast-link/backend/server/http"
	websocketServer "github.com/adwski/broadcast-link/backend/server/websocket"
	"github.com/adwski/broadcast-link/backend/service"
	store "github.com/adwski/broadcast-link/backend/storage/memory"
	sw "github.com/adwski/broadcast-link/backend/switch"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)

	configFile := fs.String("config", "", "toml config file")
	overlay := config.BindRelayFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg := config.DefaultRelayConfig()
	if *configFile != "" {
		if err := config.LoadRelayFile(*configFile, &cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to load config")
		}
	}
	overlay(&cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rootLogger, err := logging.New(os.Stdout, cfg.LogLevel, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure logger")
	}
	logger = rootLogger

	svc := service.NewService(service.Config{
		ChannelStore: store.NewMemStore(cfg.MaxEndpoints),
		Switch:       sw.NewSwitch(&logger),
		Logger:       &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		ChannelService: svc,
		ListenAddr:     cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		RelayService: svc,
		ListenAddr:   cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
