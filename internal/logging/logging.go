package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andrei-cloud/go_procgen/internal/errorcodes"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component is the value of the "component" field on every plugin message.
const Component = "procgen"

// InitLogger initializes the zerolog logger with the given level and output format.
func InitLogger(level string, human bool) error {
	return InitLoggerTo(os.Stdout, level, human)
}

// InitLoggerTo is InitLogger writing to w.
func InitLoggerTo(w io.Writer, level string, human bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano         // always initialize base logger with timestamp.
	base := zerolog.New(w).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	zerolog.SetGlobalLevel(lvl)

	return nil
}

// Plugin returns the logger for plugin-wide messages.
func Plugin() zerolog.Logger {
	return log.With().Str("component", Component).Logger()
}

// Procedural returns a logger scoped to one procedural instance.
func Procedural(name, script, instance string) zerolog.Logger {
	return log.With().
		Str("component", Component).
		Str("procedural", name).
		Str("script", script).
		Str("instance", instance).
		Logger()
}

// LogPluginError logs a failed operation with its error kind code.
func LogPluginError(l *zerolog.Logger, op string, err error) {
	ev := l.Error().Str("op", op).Err(err)
	if kind, ok := errorcodes.KindOf(err); ok {
		ev = ev.Str("kind", kind.CodeOnly())
	}
	ev.Msg("procedural operation failed")
}

// LogPathList logs each non-empty entry of a separator-delimited list.
func LogPathList(l *zerolog.Logger, title, list string, sep byte) {
	l.Info().Msg(title)
	for _, entry := range strings.Split(list, string(sep)) {
		if entry == "" {
			continue
		}
		l.Info().Str("path", entry).Msg("  " + entry)
	}
}

// HostWriter forwards each log event to a host message callback with its
// level. With Human set, events are rendered as console text first.
type HostWriter struct {
	Sink  func(level zerolog.Level, msg string)
	Human bool
}

// Write implements io.Writer for events without a level.
func (w HostWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (w HostWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	msg := string(p)
	if w.Human {
		var buf strings.Builder
		cw := zerolog.ConsoleWriter{Out: &buf, NoColor: true, TimeFormat: time.RFC3339}
		if _, err := cw.Write(p); err == nil {
			msg = buf.String()
		}
	}
	w.Sink(level, strings.TrimRight(msg, "\n"))

	return len(p), nil
}
