package logger

import (
	"context"
	"log/slog"
)

// SlogLogger wraps the standard library slog.Logger
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelDebug, msg, keyvals...)
}

func (s *SlogLogger) Info(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelInfo, msg, keyvals...)
}

func (s *SlogLogger) Warn(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelWarn, msg, keyvals...)
}

func (s *SlogLogger) Error(msg string, keyvals ...any) {
	s.l.Log(context.TODO(), slog.LevelError, msg, keyvals...)
}
