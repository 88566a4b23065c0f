// Package klog wraps github.com/charmbracelet/log with the verbosity
// levels the engine's "logging_level" configuration key names, with
// structured key/value fields (via With) instead of the teacher's
// unmigrated DW_COLOR_* terminal color codes.
package klog

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Level mirrors the four verbosities named in §6's logging_level key.
type Level int

const (
	LevelErr Level = iota
	LevelStatus
	LevelInfo
	LevelDebug
)

// ParseLevel accepts the config file's spelling case-insensitively,
// defaulting to LevelStatus for anything unrecognized (a configuration
// error per §7, not a fatal one).
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "err", "error":
		return LevelErr
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	default:
		return LevelStatus
	}
}

func (l Level) charmLevel() log.Level {
	switch l {
	case LevelErr:
		return log.ErrorLevel
	case LevelDebug:
		return log.DebugLevel
	case LevelInfo:
		return log.InfoLevel
	default:
		return log.WarnLevel
	}
}

// Logger is a thin facade over *log.Logger, passed explicitly (or as a
// .With()-scoped child) rather than kept as a global logger, so verbosity
// can be rebound with SetLevel without reaching into package globals. In
// this module only the cmd/kobengine binary holds one.
type Logger struct {
	l *log.Logger
}

// New builds a Logger writing to w at level.
func New(w io.Writer, level Level) *Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
	l.SetLevel(level.charmLevel())
	return &Logger{l: l}
}

// Default builds a Logger to stderr at LevelStatus, the engine's default
// verbosity absent a config override.
func Default() *Logger { return New(os.Stderr, LevelStatus) }

// SetLevel rebinds verbosity in place, for a caller reacting to the
// ChangeLogging bit that config.Update reports for a logging_level edit.
func (lg *Logger) SetLevel(level Level) { lg.l.SetLevel(level.charmLevel()) }

// With returns a child logger carrying the given key/value pairs on every
// subsequent line — e.g. component="wire", wire=7, source="key".
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...)}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Status(msg string, kv ...any) { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }
