// Package logging provides the leveled line logger shared by the server, client and orchestrator.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "RFC3339 LEVEL component: message" lines. A nil *Logger discards.
type Logger struct {
	logger    *log.Logger
	level     Level
	component string
}

func New(w io.Writer, level string, component string) *Logger {
	return &Logger{
		logger:    log.New(w, "", 0),
		level:     ParseLevel(level),
		component: component,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error", "")
}

// With returns a logger sharing the same sink under another component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{logger: l.logger, level: l.level, component: component}
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}
