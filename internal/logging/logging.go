// Package logging provides the leveled logger passed to every memtier component.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/kataras/golog"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelNone:
		return "disable"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a name such as "warn" to a Level. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "disable", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is the logging surface used across the module.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// GologLogger implements Logger on top of kataras/golog.
type GologLogger struct {
	logger *golog.Logger
	level  Level
}

var _ Logger = (*GologLogger)(nil)

// New creates a golog-backed logger writing to w with the given level.
func New(w io.Writer, level Level) *GologLogger {
	g := golog.New()
	if w != nil {
		g.SetOutput(w)
	}
	g.SetPrefix("[memtier] ")
	l := Wrap(g)
	l.SetLevel(level)
	return l
}

// Wrap adapts an existing golog.Logger.
func Wrap(g *golog.Logger) *GologLogger {
	return &GologLogger{logger: g, level: LevelInfo}
}

func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LevelDebug {
		l.logger.Debugf(format, v...)
	}
}

func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LevelInfo {
		l.logger.Infof(format, v...)
	}
}

func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LevelWarn {
		l.logger.Warnf(format, v...)
	}
}

func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel changes the level of both this wrapper and the underlying golog logger.
func (l *GologLogger) SetLevel(level Level) {
	l.level = level
	l.logger.SetLevel(level.String())
}

// Level returns the current level.
func (l *GologLogger) Level() Level { return l.level }

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
