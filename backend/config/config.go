// Package config holds the relay and peer settings. Values come from the
// defaults, then an optional TOML file, then command line flags that were
// explicitly set.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/adwski/broadcast-link/backend/codec"
	"github.com/adwski/broadcast-link/backend/connection"
	"github.com/adwski/broadcast-link/backend/keepalive"
)

const (
	TransportRelay = "relay"
	TransportRedis = "redis"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoad          = errors.New("unable to load config file")
)

// Duration is a time.Duration that reads from TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type RelayConfig struct {
	APIListenAddr string `toml:"api_listen_addr"`
	WSListenAddr  string `toml:"ws_listen_addr"`
	MaxEndpoints  int    `toml:"max_endpoints"`
	LogLevel      string `toml:"log_level"`
}

type PeerConfig struct {
	Name              string   `toml:"name"`
	Channel           string   `toml:"channel"`
	Transport         string   `toml:"transport"`
	RelayURL          string   `toml:"relay_url"`
	RedisAddr         string   `toml:"redis_addr"`
	Codec             string   `toml:"codec"`
	KeepaliveInterval Duration `toml:"keepalive_interval"`
	PingReplyDelay    Duration `toml:"ping_reply_delay"`
	LogLevel          string   `toml:"log_level"`
	Dump              bool     `toml:"dump"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		APIListenAddr: ":8080",
		WSListenAddr:  ":8888",
		LogLevel:      "debug",
	}
}

func DefaultPeerConfig() PeerConfig {
	ka := keepalive.DefaultConfig()
	return PeerConfig{
		Name:              "anonymous",
		Channel:           connection.DefaultChannel,
		Transport:         TransportRelay,
		RelayURL:          "ws://127.0.0.1:8888",
		RedisAddr:         "127.0.0.1:6379",
		Codec:             codec.NameJSON,
		KeepaliveInterval: Duration{ka.Interval},
		PingReplyDelay:    Duration{ka.ReplyDelay},
		LogLevel:          "info",
	}
}

// LoadRelayFile overlays keys defined in the TOML file at path onto cfg.
func LoadRelayFile(path string, cfg *RelayConfig) error {
	return loadFile(path, cfg)
}

// LoadPeerFile overlays keys defined in the TOML file at path onto cfg.
func LoadPeerFile(path string, cfg *PeerConfig) error {
	return loadFile(path, cfg)
}

func loadFile(path string, v any) error {
	meta, err := toml.DecodeFile(path, v)
	if err != nil {
		return errors.Join(ErrLoad, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return nil
}

// BindRelayFlags registers relay flags on fs. The returned func overlays
// flags that were set on the command line onto cfg.
func BindRelayFlags(fs *pflag.FlagSet) func(cfg *RelayConfig) {
	f := DefaultRelayConfig()
	fs.StringVarP(&f.APIListenAddr, "api-listen-addr", "a", f.APIListenAddr, "api listen address")
	fs.StringVarP(&f.WSListenAddr, "ws-listen-addr", "w", f.WSListenAddr, "websocket relay listen address")
	fs.IntVarP(&f.MaxEndpoints, "max-endpoints", "m", f.MaxEndpoints, "max endpoints per channel, 0 is unlimited")
	fs.StringVarP(&f.LogLevel, "log-level", "l", f.LogLevel, "log level")

	return func(cfg *RelayConfig) {
		fs.Visit(func(fl *pflag.Flag) {
			switch fl.Name {
			case "api-listen-addr":
				cfg.APIListenAddr = f.APIListenAddr
			case "ws-listen-addr":
				cfg.WSListenAddr = f.WSListenAddr
			case "max-endpoints":
				cfg.MaxEndpoints = f.MaxEndpoints
			case "log-level":
				cfg.LogLevel = f.LogLevel
			}
		})
	}
}

// BindPeerFlags registers peer flags on fs. The returned func overlays
// flags that were set on the command line onto cfg.
func BindPeerFlags(fs *pflag.FlagSet) func(cfg *PeerConfig) {
	f := DefaultPeerConfig()
	fs.StringVarP(&f.Name, "name", "n", f.Name, "name announced to the other peer")
	fs.StringVarP(&f.Channel, "channel", "c", f.Channel, "broadcast channel to meet on")
	fs.StringVarP(&f.Transport, "transport", "t", f.Transport, "transport: relay or redis")
	fs.StringVar(&f.RelayURL, "relay-url", f.RelayURL, "relay websocket base url")
	fs.StringVar(&f.RedisAddr, "redis-addr", f.RedisAddr, "redis address")
	fs.StringVar(&f.Codec, "codec", f.Codec, "wire codec: json or cbor")
	fs.DurationVar(&f.KeepaliveInterval.Duration, "keepalive-interval", f.KeepaliveInterval.Duration, "keepalive check interval")
	fs.DurationVar(&f.PingReplyDelay.Duration, "ping-reply-delay", f.PingReplyDelay.Duration, "delay before answering a ping")
	fs.StringVarP(&f.LogLevel, "log-level", "l", f.LogLevel, "log level")
	fs.BoolVar(&f.Dump, "dump", f.Dump, "dump received payloads")

	return func(cfg *PeerConfig) {
		fs.Visit(func(fl *pflag.Flag) {
			switch fl.Name {
			case "name":
				cfg.Name = f.Name
			case "channel":
				cfg.Channel = f.Channel
			case "transport":
				cfg.Transport = f.Transport
			case "relay-url":
				cfg.RelayURL = f.RelayURL
			case "redis-addr":
				cfg.RedisAddr = f.RedisAddr
			case "codec":
				cfg.Codec = f.Codec
			case "keepalive-interval":
				cfg.KeepaliveInterval = f.KeepaliveInterval
			case "ping-reply-delay":
				cfg.PingReplyDelay = f.PingReplyDelay
			case "log-level":
				cfg.LogLevel = f.LogLevel
			case "dump":
				cfg.Dump = f.Dump
			}
		})
	}
}

func (c *RelayConfig) Validate() error {
	var errs []error
	if c.APIListenAddr == "" {
		errs = append(errs, errors.New("api listen address is empty"))
	}
	if c.WSListenAddr == "" {
		errs = append(errs, errors.New("websocket listen address is empty"))
	}
	if c.MaxEndpoints < 0 {
		errs = append(errs, errors.New("max endpoints is negative"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (c *PeerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if c.Channel == "" {
		errs = append(errs, errors.New("channel is empty"))
	}
	switch c.Transport {
	case TransportRelay:
		if c.RelayURL == "" {
			errs = append(errs, errors.New("relay url is empty"))
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.KeepaliveInterval.Duration <= 0 {
		errs = append(errs, errors.New("keepalive interval must be positive"))
	}
	if c.PingReplyDelay.Duration < 0 || c.PingReplyDelay.Duration >= c.KeepaliveInterval.Duration {
		errs = append(errs, errors.New("ping reply delay must be shorter than keepalive interval"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (c *PeerConfig) Keepalive() keepalive.Config {
	return keepalive.Config{
		Interval:   c.KeepaliveInterval.Duration,
		ReplyDelay: c.PingReplyDelay.Duration,
	}
}
