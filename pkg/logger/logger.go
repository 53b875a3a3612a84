// Package logger wraps zap's SugaredLogger so the rest of the proxy logs
// through one narrow, swappable seam instead of importing zap directly.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper over a zap.SugaredLogger.
type Logger struct {
	s *zap.SugaredLogger
}

// Default is the package-level logger used by callers that don't carry
// their own request-scoped instance.
var Default = New()

// New builds a Logger that writes line-oriented JSON to stdout, matching
// the "logging sink is an external, line-oriented stdout collaborator"
// contract described in the spec's scope section.
func New() *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	return &Logger{s: zap.New(core).Sugar()}
}

// With returns a child Logger with the given key/value pairs attached to
// every subsequent entry, used to carry a request ID through one proxied
// exchange's lifetime.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

// Info logs an informational message with structured fields.
func (l *Logger) Info(msg string, kv ...any) {
	l.s.Infow(msg, kv...)
}

// Error logs an error message with structured fields.
func (l *Logger) Error(msg string, kv ...any) {
	l.s.Errorw(msg, kv...)
}

// Debug logs a debug message with structured fields.
func (l *Logger) Debug(msg string, kv ...any) {
	l.s.Debugw(msg, kv...)
}

// Sync flushes any buffered log entries. Call before process exit.
func (l *Logger) Sync() {
	_ = l.s.Sync()
}

// Info logs through the package-level Default logger.
func Info(msg string, kv ...any) { Default.Info(msg, kv...) }

// Error logs through the package-level Default logger.
func Error(msg string, kv ...any) { Default.Error(msg, kv...) }

// Debug logs through the package-level Default logger.
func Debug(msg string, kv ...any) { Default.Debug(msg, kv...) }
