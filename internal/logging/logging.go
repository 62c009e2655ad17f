// Package logging builds the process logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a console logger in development and a JSON logger
// otherwise. An unknown level falls back to info.
func Setup(env, level string) zerolog.Logger {
	return New(os.Stderr, env, level)
}

func New(out io.Writer, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if env == "development" || env == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	} else {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
