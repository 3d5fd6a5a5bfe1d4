package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func New() zerolog.Logger {
	return WithLevel(os.Getenv("LOG_LEVEL"))
}

// WithLevel builds the process logger at the named level.
// Unknown or empty names fall back to info.
func WithLevel(name string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if name != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name))); err == nil {
			level = parsed
		}
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(level)
}

var Module = fx.Provide(New)
