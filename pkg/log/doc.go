// Package log provides kvbridge's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds a formatter/outputs
// pipeline, so output stays uniform across the bridge, the CLI and Pebble's
// own logging.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("dispatch"), log.Int("partitions", 8))
//	l.Info("dispatcher started", log.Str("downstream", "127.0.0.1:6379"))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and multiple outputs (console, file, null). Redaction keys
// hide secrets such as downstream passwords; sampling tames hot loops.
//
// # Interop
//
// ToStdLogger and RedirectStdLog bridge libraries that expect *log.Logger.
// Loggers are passed explicitly; there is no package-level default.
package log
