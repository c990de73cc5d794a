// Package logging builds the base zerolog.Logger used throughout the
// agent. It is a small, local reconstruction of the log package the
// teacher application imports but does not vendor in this retrieval
// pack; the shape (level + pretty-console toggle) matches how
// shared-publisher-leader-app/main.go wires its logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level, optionally rendering to
// a human-friendly console writer instead of JSON lines.
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = os.Stdout
	logger := zerolog.New(writer).Level(lvl).With().Timestamp().Logger()

	if pretty {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger = zerolog.New(console).Level(lvl).With().Timestamp().Logger()
	}

	return logger
}
