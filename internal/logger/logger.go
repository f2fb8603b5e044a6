// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so that components can share one type across the daemon.
type Logger struct {
	*slog.Logger
}

// New returns a Logger writing text records to stderr.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger writing text records of at least the given level to output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Discard returns a Logger that drops every record. Useful for tests.
func Discard() *Logger {
	return NewLogger(slog.LevelError, io.Discard)
}

// With returns a Logger that includes the given attributes in each record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Err returns an error attribute for structured logging.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Component returns an attribute that names the emitting component.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
