package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names the verbosity floor. The values are zerolog's own level
// names, so a --log-level flag value passes through to ParseLevel unchanged.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// logger is the process-wide root. It is usable before Init so failures in
// early daemon construction still produce a line, just with default
// settings (JSON on stdout, no level floor).
var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Options configures Init.
type Options struct {
	Level  Level
	JSON   bool      // machine-readable output; false renders a human console format
	Output io.Writer // defaults to stdout
}

// Init replaces the root logger. The level is carried on the logger itself
// rather than through zerolog's global level, so a test package calling
// Init never changes the verbosity of code logging through its own
// already-derived children.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	var w io.Writer = out
	if !opts.JSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(string(opts.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func with(key, value string) zerolog.Logger {
	return logger.With().Str(key, value).Logger()
}

// WithComponent returns a child logger tagged with a subsystem name - the
// field every manager and long-lived loop logs under.
func WithComponent(name string) zerolog.Logger { return with("component", name) }

// WithContainerID, WithNetworkID, and WithExecID tag per-object background
// tasks (exit monitors, healthcheck loops, exec sessions) so one object's
// lines grep cleanly out of a busy daemon log.
func WithContainerID(id string) zerolog.Logger { return with("container_id", id) }
func WithNetworkID(id string) zerolog.Logger   { return with("network_id", id) }
func WithExecID(id string) zerolog.Logger      { return with("exec_id", id) }

// Field-free helpers for one-off messages.

func Debug(msg string) { logger.Debug().Msg(msg) }
func Info(msg string)  { logger.Info().Msg(msg) }
func Warn(msg string)  { logger.Warn().Msg(msg) }
func Error(msg string) { logger.Error().Msg(msg) }

// Errorf records err under msg. It exists because "log the error and keep
// going" is the standard failure mode for the daemon's background tasks.
func Errorf(msg string, err error) { logger.Error().Err(err).Msg(msg) }

// Fatal logs and exits the process; only the cmd layer should call it.
func Fatal(msg string) { logger.Fatal().Msg(msg) }
