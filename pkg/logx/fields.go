package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to an entry. Later fields overwrite earlier keys.
type Field func(*zerolog.Event)

func String(key, val string) Field {
	return func(e *zerolog.Event) { e.Str(key, val) }
}

func Int(key string, val int) Field {
	return func(e *zerolog.Event) { e.Int(key, val) }
}

func Int64(key string, val int64) Field {
	return func(e *zerolog.Event) { e.Int64(key, val) }
}

func Uint64(key string, val uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(key, val) }
}

func Bool(key string, val bool) Field {
	return func(e *zerolog.Event) { e.Bool(key, val) }
}

func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}

func Time(key string, val time.Time) Field {
	return func(e *zerolog.Event) { e.Time(key, val) }
}

// Any serializes val with zerolog's reflection encoder.
func Any(key string, val any) Field {
	return func(e *zerolog.Event) { e.Interface(key, val) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Stack attaches a goroutine dump, typically from a recovered panic.
func Stack(stack string) Field {
	if strings.TrimSpace(stack) == "" {
		return nil
	}
	return func(e *zerolog.Event) { e.Str("stack", stack) }
}

func applyFields(e *zerolog.Event, groups ...[]Field) {
	for _, g := range groups {
		for _, f := range g {
			if f != nil {
				f(e)
			}
		}
	}
}
