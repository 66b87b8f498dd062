package logger

import (
	"time"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the package-level oarkflow/log logger.
type PhusluLogger struct {
	component string
}

// NewPhusluLogger tags every line with component when it is non-empty.
func NewPhusluLogger(component string) *PhusluLogger {
	return &PhusluLogger{component: component}
}

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	p.write(phlog.Debug(), msg, keyvals)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	p.write(phlog.Info(), msg, keyvals)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	p.write(phlog.Error(), msg, keyvals)
}

func (p *PhusluLogger) write(e *phlog.Entry, msg string, keyvals []any) {
	if e == nil {
		return
	}
	if p.component != "" {
		e = e.Str("component", p.component)
	}
	eachPair(keyvals, func(k string, v any) {
		switch vv := v.(type) {
		case string:
			e = e.Str(k, vv)
		case bool:
			e = e.Bool(k, vv)
		case int:
			e = e.Int(k, vv)
		case int64:
			e = e.Int64(k, vv)
		case time.Duration:
			e = e.Dur(k, vv)
		case error:
			e = e.Str(k, vv.Error())
		default:
			e = e.Any(k, vv)
		}
	})
	e.Msg(msg)
}
