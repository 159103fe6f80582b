// Package logging builds the zerolog logger used across the broker.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log output formats.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// New creates a structured logger.
//
// Features:
//   - Structured JSON output (Loki-compatible)
//   - Contextual fields for filtering
//   - Timestamp in RFC3339 format
//   - Caller information for debugging
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "pusherd").
		Logger()
}

// Init installs the logger as the zerolog global. Call once at startup.
func Init(level, format string) zerolog.Logger {
	logger := New(level, format)
	log.Logger = logger
	return logger
}

// RecoverPanic logs a recovered panic with its stack without exiting. Use in
// defer blocks of long-lived goroutines so one misbehaving session cannot
// crash the process.
//
// Example:
//
//	go func() {
//	    defer logging.RecoverPanic(logger, "writePump", map[string]any{"socket_id": id})
//	    // ... goroutine work ...
//	}()
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))

		for k, v := range fields {
			event = event.Interface(k, v)
		}

		event.Msg("Goroutine panic recovered")
	}
}
