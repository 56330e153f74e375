package logx

import (
	"context"
	"fmt"
)

// Entry accumulates fields for a single log call. Entries are not shared;
// every With* returns the same entry for chaining.
type Entry struct {
	logger *Logger
	fields Fields
	data   any
	err    error
	ctx    context.Context
}

func newEntry(logger *Logger) *Entry {
	return &Entry{
		logger: logger,
		fields: make(Fields),
	}
}

func (e *Entry) WithField(key string, value any) *Entry {
	e.fields[key] = value
	return e
}

func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.err = err
	return e
}

// WithContext copies the request id, if any, into the entry.
func (e *Entry) WithContext(ctx context.Context) *Entry {
	e.ctx = ctx
	if ctx != nil {
		if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
			e.fields["request_id"] = id
		}
	}
	return e
}

func (e *Entry) WithStruct(data any) *Entry {
	e.data = data
	return e
}

func (e *Entry) emit(level Level, msg string) {
	e.logger.log(level, msg, e.fields, e.data, e.err)
}

func (e *Entry) Trace(msg string) { e.emit(LevelTrace, msg) }
func (e *Entry) Debug(msg string) { e.emit(LevelDebug, msg) }
func (e *Entry) Info(msg string)  { e.emit(LevelInfo, msg) }
func (e *Entry) Warn(msg string)  { e.emit(LevelWarn, msg) }
func (e *Entry) Error(msg string) { e.emit(LevelError, msg) }

func (e *Entry) Fatal(msg string) {
	e.emit(LevelFatal, msg)
	e.logger.exit(1)
}

func (e *Entry) Debugf(format string, args ...any) { e.emit(LevelDebug, fmt.Sprintf(format, args...)) }
func (e *Entry) Infof(format string, args ...any)  { e.emit(LevelInfo, fmt.Sprintf(format, args...)) }
func (e *Entry) Warnf(format string, args ...any)  { e.emit(LevelWarn, fmt.Sprintf(format, args...)) }
func (e *Entry) Errorf(format string, args ...any) { e.emit(LevelError, fmt.Sprintf(format, args...)) }

func (e *Entry) Fatalf(format string, args ...any) {
	e.emit(LevelFatal, fmt.Sprintf(format, args...))
	e.logger.exit(1)
}
