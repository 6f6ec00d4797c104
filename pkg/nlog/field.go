package nlog

import "time"

// Field is a single piece of structured log context.
type Field struct {
	Key   string
	Value any
}

// Fields is a map of field names to values, used by the slog bridge and by
// formatters.
type Fields map[string]any

func Str(key, value string) Field        { return Field{Key: key, Value: value} }
func Int(key string, value int) Field     { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field   { return Field{Key: key, Value: value} }
func Err(err error) Field                 { return Field{Key: "error", Value: err} }
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d}
}
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }
