package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger with a JSON writer on stdout.
// It ensures that the logger is initialized only once.
func Init(level string) {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		defaultLogger = zerolog.New(os.Stdout).Level(parseLevel(level)).With().Timestamp().Logger()
		defaultLogger.Info().Msg("Logger initialized")
	})
}

// Get returns the initialized default logger, initializing it at info
// level if nothing configured it first.
func Get() *zerolog.Logger {
	Init("info")
	return &defaultLogger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Info logs an informational message using the default logger.
func Info(msg string, fields map[string]any) {
	event := Get().Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, fields map[string]any) {
	event := Get().Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, fields map[string]any) {
	event := Get().Error()
	if err != nil {
		event = event.Err(err)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, fields map[string]any) {
	event := Get().Debug()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
