// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Service    string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Service:    "ai-lecture-transcriber",
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) zerolog.Logger {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Caller().Logger()
	return log.Logger
}

// SetLevel changes the global level at runtime.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	if l != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(l)
		log.Info().Str("logLevel", l.String()).Msg("Log level changed")
	}
	return nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger with session context.
func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().
		Str("sessionId", sessionID).
		Logger()
}

// WithChunk returns a logger with chunk context.
func WithChunk(base zerolog.Logger, sessionID string, chunkIndex int) zerolog.Logger {
	return base.With().
		Str("sessionId", sessionID).
		Int("chunkIndex", chunkIndex).
		Logger()
}

// WithBackend returns a logger tagged with a transcription backend.
func WithBackend(base zerolog.Logger, backend string) zerolog.Logger {
	return base.With().
		Str("backend", backend).
		Logger()
}
