package logger

import (
	"context"
	"log/slog"
)

// SLogLogger adapts a *slog.Logger.
type SLogLogger struct {
	l *slog.Logger
}

func NewSLogLogger(l *slog.Logger) *SLogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SLogLogger{l: l}
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) {
	s.log(slog.LevelDebug, msg, keyvals...)
}

func (s *SLogLogger) Info(msg string, keyvals ...any) {
	s.log(slog.LevelInfo, msg, keyvals...)
}

func (s *SLogLogger) Error(msg string, keyvals ...any) {
	s.log(slog.LevelError, msg, keyvals...)
}

func (s *SLogLogger) log(level slog.Level, msg string, keyvals ...any) {
	attrs := make([]slog.Attr, 0, len(keyvals)/2)
	eachPair(keyvals, func(k string, v any) {
		attrs = append(attrs, toSlogAttr(k, v))
	})
	s.l.LogAttrs(context.Background(), level, msg, attrs...)
}

func toSlogAttr(k string, v any) slog.Attr {
	switch vv := v.(type) {
	case string:
		return slog.String(k, vv)
	case bool:
		return slog.Bool(k, vv)
	case int:
		return slog.Int(k, vv)
	case int64:
		return slog.Int64(k, vv)
	case error:
		return slog.String(k, vv.Error())
	default:
		return slog.Any(k, vv)
	}
}
