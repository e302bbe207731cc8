// Package log provides flolog's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by the standard
// library slog via a bridge handler that feeds our formatter and outputs, so
// every component renders records identically.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("sequencer"), log.Uint64("epoch", 3))
//	l.Info("token issued", log.Uint64("address", 42))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config: JSON or text
// formatting, console/file/null outputs, key redaction and per-message
// sampling.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (Pebble, gRPC) through a
// Logger; ToStdLogger returns a *log.Logger for APIs that need one.
package log
