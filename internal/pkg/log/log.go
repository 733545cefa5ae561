// Package log provides the Logger used by all services, it is a thin layer over the zap library.
package log

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

type Logger interface {
	contextLogger
	withAttributes
}

type contextLogger interface {
	// Debug logs message in the debug level.
	Debug(ctx context.Context, message string)
	// Info logs message in the info level.
	Info(ctx context.Context, message string)
	// Warn logs message in the warning level.
	Warn(ctx context.Context, message string)
	// Error logs message in the error level.
	Error(ctx context.Context, message string)
	// Log logs message in the level defined by its name.
	Log(ctx context.Context, level string, message string)

	Debugf(ctx context.Context, template string, args ...any)
	Infof(ctx context.Context, template string, args ...any)
	Warnf(ctx context.Context, template string, args ...any)
	Errorf(ctx context.Context, template string, args ...any)

	Sync() error
}

type withAttributes interface {
	// With returns a logger with the attributes added to each message.
	With(attrs ...attribute.KeyValue) Logger
	// WithComponent returns a logger with the component name, nested components are joined by a dot.
	WithComponent(component string) Logger
	// WithDuration returns a logger with the "duration" attribute.
	WithDuration(v time.Duration) Logger
}
