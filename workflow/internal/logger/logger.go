// Package logger provides the default logging sink used by a Workflow when
// the caller does not supply one via WithLogger. It wraps log/slog, the way
// the reference engine wraps slog behind its own internal logger package
// rather than calling slog (or fmt) directly from engine code.
package logger

import (
	"io"
	"log/slog"
)

// Logger is the logging collaborator a Workflow depends on. Implementations
// are obtained once per Workflow (keyed by workflow name) and must be safe
// for concurrent use, since hooks and tasks may log from the driver thread
// while controller threads log from control calls.
type Logger interface {
	Info(msg string, kv map[string]any)
	Warn(msg string, kv map[string]any)
	Error(msg string, kv map[string]any)
	Exception(err error, msg string, kv map[string]any)
}

// Slog is the default Logger, backed by log/slog.
type Slog struct {
	inner *slog.Logger
}

// New returns a Slog logger writing structured text records to w.
func New(w io.Writer) *Slog {
	return &Slog{inner: slog.New(slog.NewTextHandler(w, nil))}
}

func attrs(kv map[string]any) []any {
	out := make([]any, 0, len(kv)*2)
	for k, v := range kv {
		out = append(out, k, v)
	}
	return out
}

func (s *Slog) Info(msg string, kv map[string]any) {
	s.inner.Info(msg, attrs(kv)...)
}

func (s *Slog) Warn(msg string, kv map[string]any) {
	s.inner.Warn(msg, attrs(kv)...)
}

func (s *Slog) Error(msg string, kv map[string]any) {
	s.inner.Error(msg, attrs(kv)...)
}

func (s *Slog) Exception(err error, msg string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["error"] = err
	s.inner.Error(msg, attrs(kv)...)
}
