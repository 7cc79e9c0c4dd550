// Package log provides Stroomweg's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Formatters (text, JSON) and outputs
// are pluggable; components receive a Logger tagged with their component
// name from the wiring layer rather than reaching for a global.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	)
//	l = l.WithComponent("ingest")
//	l.Info("cycle complete", log.Uint64("cycle", 42), log.Int("records", 1800))
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// format strings, typically from the environment).
package log
