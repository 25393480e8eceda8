package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to an event. Later fields overwrite earlier ones with
// the same key.
type Field func(e *zerolog.Event)

func String(key, val string) Field       { return func(e *zerolog.Event) { e.Str(key, val) } }
func Strs(key string, val []string) Field { return func(e *zerolog.Event) { e.Strs(key, val) } }
func Int(key string, val int) Field       { return func(e *zerolog.Event) { e.Int(key, val) } }
func Int64(key string, val int64) Field   { return func(e *zerolog.Event) { e.Int64(key, val) } }
func Uint64(key string, val uint64) Field { return func(e *zerolog.Event) { e.Uint64(key, val) } }
func Bool(key string, val bool) Field     { return func(e *zerolog.Event) { e.Bool(key, val) } }
func Time(key string, val time.Time) Field {
	return func(e *zerolog.Event) { e.Time(key, val) }
}
func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}
func Any(key string, val any) Field { return func(e *zerolog.Event) { e.Interface(key, val) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

// Stack attaches a captured stack trace; blank traces are dropped.
func Stack(trace string) Field {
	if strings.TrimSpace(trace) == "" {
		return nil
	}
	return func(e *zerolog.Event) { e.Str("stack", trace) }
}

func applyFields(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}
