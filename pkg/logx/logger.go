package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var stdout io.Writer = os.Stdout

// source yields the zerolog instance a Logger writes to. *Service is a
// source whose instance changes on Apply.
type source interface {
	current() zerolog.Logger
}

type fixed zerolog.Logger

func (f fixed) current() zerolog.Logger { return zerolog.Logger(f) }

// Logger is a value type; copies are cheap and share the sink. The zero
// Logger discards everything.
type Logger struct {
	src   source
	bound []Field
}

func Nop() Logger { return Logger{src: fixed(zerolog.Nop())} }

// NewConsole writes human-readable lines to stdout. Used before the logging
// Service is configured.
func NewConsole(level string) Logger {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeLayout
	zl := zerolog.New(consoleWriter(stdout)).
		Level(parseLevel(level, LevelInfo)).
		With().Timestamp().Logger()
	return Logger{src: fixed(zl)}
}

// NewWriter writes JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{src: fixed(zl)}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.bound) == 0 }

func (l Logger) sink() zerolog.Logger {
	if l.src == nil {
		return zerolog.Nop()
	}
	return l.src.current()
}

func (l Logger) Enabled(level Level) bool { return level >= l.sink().GetLevel() }

// With returns a child that adds fields to every entry.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	bound := make([]Field, 0, len(l.bound)+len(fields))
	l.bound = append(append(bound, l.bound...), fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(level Level, msg string, fields []Field) {
	zl := l.sink()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// emit <- Info/Warn/... <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	applyFields(e, l.bound, fields)
	e.Msg(msg)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeLayout,
		FormatCaller: func(v any) string { s, _ := v.(string); return s },
	}
}

// parseLevel accepts zerolog level names plus "warning"; anything else is def.
func parseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lv > LevelError {
		return def
	}
	return lv
}
