// Package logging provides the structured logger shared by the catalog,
// migrator, and snapshot service.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init re-points it; until Init is
// called it writes human-readable console output to stderr at info level.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	Level(zerolog.InfoLevel).With().Timestamp().Logger()

// Config controls how Init builds the global logger.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the global logger.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning component, e.g.
// "catalog", "merkle", "snapshot".
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
