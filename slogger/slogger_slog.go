package slogger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Slogger implements Logger on top of a slog.Logger with a tint handler.
type Slogger struct {
	logger *slog.Logger
}

// New returns a Slogger writing colorized output to stdout. Color is
// disabled when stdout is not a terminal.
func New(level LogLevel) *Slogger {
	return &Slogger{
		logger: slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
			TimeFormat: time.Kitchen,
			Level:      slog.Level(level),
		})),
	}
}

// NewWithWriter returns a Slogger writing plain output to w. Used by tests
// to capture log lines.
func NewWithWriter(w io.Writer, level LogLevel) *Slogger {
	return &Slogger{
		logger: slog.New(tint.NewHandler(w, &tint.Options{
			NoColor: true,
			Level:   slog.Level(level),
		})),
	}
}

func (l *Slogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *Slogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *Slogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *Slogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *Slogger) With(keysAndValues ...any) Logger {
	return &Slogger{logger: l.logger.With(keysAndValues...)}
}
