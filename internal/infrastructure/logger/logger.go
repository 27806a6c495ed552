package logger

import (
	"context"
	"io"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "info"
	}
}

type Fields map[string]any

type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
	Fatal(msg string)
	Fatalf(format string, args ...any)

	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level Level)
	SetOutput(output io.Writer)
}

// Nop discards everything. Used by tests and as a fallback for nil loggers.
type Nop struct{}

var _ Logger = Nop{}

func (Nop) Debug(string)                   {}
func (Nop) Debugf(string, ...any)          {}
func (Nop) Info(string)                    {}
func (Nop) Infof(string, ...any)           {}
func (Nop) Warn(string)                    {}
func (Nop) Warnf(string, ...any)           {}
func (Nop) Error(string)                   {}
func (Nop) Errorf(string, ...any)          {}
func (Nop) Fatal(string)                   {}
func (Nop) Fatalf(string, ...any)          {}
func (n Nop) WithField(string, any) Logger { return n }
func (n Nop) WithFields(Fields) Logger     { return n }
func (n Nop) WithContext(context.Context) Logger {
	return n
}
func (Nop) SetLevel(Level)      {}
func (Nop) SetOutput(io.Writer) {}
