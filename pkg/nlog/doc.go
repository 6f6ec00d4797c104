// Package nlog provides the engine's structured logging facade.
//
// It exposes a small Logger interface with leveled, field-based methods,
// backed internally by the standard library's log/slog via a handler that
// routes records through a pluggable formatter/output pipeline. Components
// construct a Logger once and pass it explicitly rather than reaching for a
// package-level global.
//
//	l := nlog.New(nlog.WithLevel(nlog.InfoLevel), nlog.WithOutput(nlog.NewConsoleOutput()))
//	l = l.WithComponent("partition").With(nlog.Str("path", path))
//	l.Info("opened", nlog.Int64("size", size))
package nlog
