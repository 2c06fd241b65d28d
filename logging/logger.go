// Package logging wires zerolog into the telemetry event bus: every log
// record written through a Logger built here is mirrored into the Capture
// buffer as a log-kind event for websocket streaming.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/models"
)

// Options configures logger construction.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Output  io.Writer
	Service string
}

// New builds the application logger. When capture is non-nil, a hook mirrors
// each record into the event bus. The logger is an explicitly constructed
// instance passed by reference; there is no package-level singleton, so tests
// can build isolated loggers per test case.
func New(opts Options, capture *Capture) zerolog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	if opts.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(output)
	}

	zl = zl.Level(parseLevel(opts.Level)).With().
		Timestamp().
		Str("service", serviceName(opts.Service)).
		Logger()

	if capture != nil {
		zl = zl.Hook(captureHook{capture: capture})
	}
	return zl
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func serviceName(s string) string {
	if s == "" {
		return "modul8r"
	}
	return s
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// captureHook publishes each log record into the event bus. Publish is
// non-blocking and deduplicating, so bursty repeated records cannot storm
// subscribers or recurse into the logger.
type captureHook struct {
	capture *Capture
}

func (h captureHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if message == "" || level == zerolog.NoLevel {
		return
	}
	h.capture.Publish(models.LogEvent(level.String(), message))
}
