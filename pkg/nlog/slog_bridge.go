package nlog

import (
	"context"
	"log/slog"
)

// bridgeHandler is a slog.Handler that routes records through the owning
// logger's formatter and outputs, after merging in the logger's persistent
// fields (set via With/WithComponent).
type bridgeHandler struct {
	logger *baseLogger
}

func newBridgeHandler(l *baseLogger) *bridgeHandler {
	return &bridgeHandler{logger: l}
}

func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.level <= fromSlogLevel(level)
}

func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(Fields, len(h.logger.fields)+r.NumAttrs())
	for k, v := range h.logger.fields {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	entry := &Entry{Level: fromSlogLevel(r.Level), Message: r.Message, Fields: fields}
	formatted, err := h.logger.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range h.logger.outputs {
		if err := out.Write(entry, formatted); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs and WithGroup are required by slog.Handler but unused: the
// logger threads its persistent fields through baseLogger.fields instead,
// so a new bridgeHandler is created on every With call.
func (h *bridgeHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *bridgeHandler) WithGroup(_ string) slog.Handler       { return h }

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level < slog.LevelWarn:
		return InfoLevel
	case level < slog.LevelError:
		return WarnLevel
	default:
		return ErrorLevel
	}
}
