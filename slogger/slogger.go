// Package slogger provides structured logging for the forge engine. It wraps
// log/slog so callers depend on a small interface rather than a concrete
// handler, and carries loggers through contexts.
package slogger

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultLogger is used when no logger is set on a context.
var DefaultLogger Logger = NewDevNullLogger()

// Logger is the logging interface used throughout forge. It supports
// structured key-value logging and child loggers with bound fields.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// With returns a child Logger with the given key-value pairs bound.
	With(keysAndValues ...any) Logger
}

// LogLevel is the minimum level a logger emits.
type LogLevel slog.Level

const (
	LevelDebug LogLevel = LogLevel(slog.LevelDebug)
	LevelInfo  LogLevel = LogLevel(slog.LevelInfo)
	LevelWarn  LogLevel = LogLevel(slog.LevelWarn)
	LevelError LogLevel = LogLevel(slog.LevelError)
)

var DefaultLogLevel = LevelInfo

type contextKey string

const loggerKey contextKey = "forge.logger"

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger carried by the context, or DefaultLogger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return DefaultLogger
	}
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger
}

// LevelFromString parses a level name, defaulting to DefaultLogLevel.
func LevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return DefaultLogLevel
	}
}
