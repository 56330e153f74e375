package logx

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
)

type contextKey string

// RequestIDKey is the context key WithContext reads the request id from.
const RequestIDKey contextKey = "request_id"

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(LoadFromEnv()))
}

func std() *Logger { return defaultLogger.Load() }

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(l *Logger) {
	defaultLogger.Store(l)
}

func GetDefaultLogger() *Logger { return std() }

func SetLevel(level Level) { std().SetLevel(level) }

func SetOutput(w io.Writer) { std().SetOutput(w) }

// ── Plain ───────────────────────────────────────────────────────────────

func Debug(msg string) { std().log(LevelDebug, msg, nil, nil, nil) }
func Info(msg string)  { std().log(LevelInfo, msg, nil, nil, nil) }
func Warn(msg string)  { std().log(LevelWarn, msg, nil, nil, nil) }
func Error(msg string) { std().log(LevelError, msg, nil, nil, nil) }

func Fatal(msg string) {
	std().log(LevelFatal, msg, nil, nil, nil)
	std().exit(1)
}

// ── Formatted ───────────────────────────────────────────────────────────

func Debugf(format string, args ...any) { std().log(LevelDebug, fmt.Sprintf(format, args...), nil, nil, nil) }
func Infof(format string, args ...any)  { std().log(LevelInfo, fmt.Sprintf(format, args...), nil, nil, nil) }
func Warnf(format string, args ...any)  { std().log(LevelWarn, fmt.Sprintf(format, args...), nil, nil, nil) }
func Errorf(format string, args ...any) { std().log(LevelError, fmt.Sprintf(format, args...), nil, nil, nil) }

func Fatalf(format string, args ...any) {
	std().log(LevelFatal, fmt.Sprintf(format, args...), nil, nil, nil)
	std().exit(1)
}

// ── Structured ──────────────────────────────────────────────────────────

func WithFields(fields Fields) *Entry { return std().WithFields(fields) }

func WithField(key string, value any) *Entry { return std().WithField(key, value) }

func WithError(err error) *Entry { return std().WithError(err) }

func WithStruct(data any) *Entry { return std().WithStruct(data) }

func WithContext(ctx context.Context) *Entry { return newEntry(std()).WithContext(ctx) }
