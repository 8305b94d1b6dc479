// Package logging wraps zerolog the way the teacher project configures
// it: structured JSON by default, a pretty console writer for local
// development, and panic-recovery helpers for every goroutine the
// server spawns off the main dispatch loop.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a logger with a timestamp, caller info, and a fixed
// service field, ready to be threaded through the engine and transport.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "varserverd").
		Logger()
}

// RecoverPanic is deferred at the top of the TCP server's accept loop,
// per-connection reader and dispatch loop. It logs the panic and lets
// the goroutine exit instead of crashing the process. The notification
// sink's writer goroutine and the metrics sampler do not defer it, and
// the notification workers recover with their own handler.
func RecoverPanic(logger zerolog.Logger, goroutine string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("recovered from panic")
	}
}
