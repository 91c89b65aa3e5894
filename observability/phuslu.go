package observability

import (
	"time"

	"github.com/phuslu/log"
)

// PhusluLogger adapts a phuslu/log logger to Logger.
type PhusluLogger struct {
	logger *log.Logger
	fields []Field
}

// NewPhusluLogger wraps l. A nil l falls back to phuslu's DefaultLogger.
func NewPhusluLogger(l *log.Logger) *PhusluLogger {
	if l == nil {
		l = &log.DefaultLogger
	}
	return &PhusluLogger{logger: l}
}

// NewConsoleLogger builds a human-oriented logger for command line use.
func NewConsoleLogger(level string) *PhusluLogger {
	return NewPhusluLogger(&log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: time.TimeOnly,
		Writer: &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		},
	})
}

func (p *PhusluLogger) Debug(msg string, fields ...Field) { p.emit(p.logger.Debug(), msg, fields) }
func (p *PhusluLogger) Info(msg string, fields ...Field)  { p.emit(p.logger.Info(), msg, fields) }
func (p *PhusluLogger) Warn(msg string, fields ...Field)  { p.emit(p.logger.Warn(), msg, fields) }
func (p *PhusluLogger) Error(msg string, fields ...Field) { p.emit(p.logger.Error(), msg, fields) }

func (p *PhusluLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(p.fields)+len(fields))
	merged = append(merged, p.fields...)
	merged = append(merged, fields...)
	return &PhusluLogger{logger: p.logger, fields: merged}
}

func (p *PhusluLogger) emit(e *log.Entry, msg string, fields []Field) {
	// phuslu returns a nil entry for disabled levels.
	if e == nil {
		return
	}
	for _, f := range p.fields {
		e = appendField(e, f)
	}
	for _, f := range fields {
		e = appendField(e, f)
	}
	e.Msg(msg)
}

func appendField(e *log.Entry, f Field) *log.Entry {
	switch v := f.Value().(type) {
	case string:
		return e.Str(f.Key(), v)
	case int:
		return e.Int(f.Key(), v)
	case int64:
		return e.Int64(f.Key(), v)
	case bool:
		return e.Bool(f.Key(), v)
	case time.Duration:
		return e.Dur(f.Key(), v)
	case error:
		return e.Str(f.Key(), v.Error())
	case nil:
		return e.Str(f.Key(), "<nil>")
	default:
		return e.Any(f.Key(), v)
	}
}
