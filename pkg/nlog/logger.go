package nlog

import (
	"context"
	"log/slog"
)

// Level is the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ComponentKey is the field key used by WithComponent.
const ComponentKey = "component"

// Entry is what reaches a Formatter.
type Entry struct {
	Level   Level
	Message string
	Fields  Fields
}

// Logger is the engine's leveled, structured logging interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an Entry to bytes.
type Formatter interface {
	Format(e *Entry) ([]byte, error)
}

// Output writes a formatted entry somewhere.
type Output interface {
	Write(e *Entry, formatted []byte) error
	Close() error
}

// Option configures a logger built with New.
type Option func(*baseLogger)

// WithLevel sets the minimum level that reaches an output.
func WithLevel(level Level) Option {
	return func(l *baseLogger) { l.level = level }
}

// WithFormatter overrides the default JSON formatter.
func WithFormatter(f Formatter) Option {
	return func(l *baseLogger) { l.formatter = f }
}

// WithOutput adds an output. The default, if none is given, is a single
// console output.
func WithOutput(o Output) Option {
	return func(l *baseLogger) { l.outputs = append(l.outputs, o) }
}

type baseLogger struct {
	level     Level
	fields    Fields
	formatter Formatter
	outputs   []Output
	slog      *slog.Logger
}

// New builds a Logger backed by log/slog.
func New(opts ...Option) Logger {
	l := &baseLogger{level: InfoLevel, fields: Fields{}, formatter: &JSONFormatter{}}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.outputs) == 0 {
		l.outputs = []Output{NewConsoleOutput()}
	}
	l.slog = slog.New(newBridgeHandler(l))
	return l
}

func (l *baseLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	l.slog.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *baseLogger) With(fields ...Field) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	nl := &baseLogger{level: l.level, fields: merged, formatter: l.formatter, outputs: l.outputs}
	nl.slog = slog.New(newBridgeHandler(nl))
	return nl
}

func (l *baseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *baseLogger) SetLevel(level Level) { l.level = level }
func (l *baseLogger) GetLevel() Level      { return l.level }
