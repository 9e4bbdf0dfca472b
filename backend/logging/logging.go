// Package logging builds the root zerolog logger for both binaries.
package logging

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "BROADCAST_LINK_LOG_LEVEL"

var ErrLevel = errors.New("unable to parse log level")

// New returns a timestamped logger writing to w. Pretty output is meant
// for terminals.
func New(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	if env, ok := os.LookupEnv(EnvLogLevel); ok && env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Join(ErrLevel, err)
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
