package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger with JSON output to stderr.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error").
// Unknown values leave the level at info.
func SetLevel(level string) {
	Init()
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// AddSink duplicates log output to an additional writer, e.g. the admin
// surface's log stream. Not safe to call concurrently with logging; wire
// sinks up during startup.
func AddSink(w io.Writer) {
	Init()
	defaultLogger = zerolog.New(zerolog.MultiLevelWriter(os.Stderr, w)).With().Timestamp().Logger()
}

// Get returns the initialized default logger. It returns a pointer because
// zerolog's level methods have pointer receivers.
func Get() *zerolog.Logger {
	Init()
	return &defaultLogger
}

// Info logs an informational message with alternating key/value fields.
func Info(msg string, args ...any) {
	ev := Get().Info()
	addFields(ev, args)
	ev.Msg(msg)
}

// Warn logs a warning message with alternating key/value fields.
func Warn(msg string, args ...any) {
	ev := Get().Warn()
	addFields(ev, args)
	ev.Msg(msg)
}

// Error logs an error message with alternating key/value fields.
func Error(msg string, args ...any) {
	ev := Get().Error()
	addFields(ev, args)
	ev.Msg(msg)
}

// Debug logs a debug message with alternating key/value fields.
func Debug(msg string, args ...any) {
	ev := Get().Debug()
	addFields(ev, args)
	ev.Msg(msg)
}

func addFields(ev *zerolog.Event, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev.Interface(key, args[i+1])
	}
}
