// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// NewNopLogger returns a logger that discards all messages.
func NewNopLogger() Logger {
	return loggerFromZapCore(zapcore.NewNopCore())
}

// NewServiceLogger creates a logger for a long-running service.
// Messages are written to the writer, debug messages only in the verbose mode.
func NewServiceLogger(w io.Writer, verbose bool, format LogFormat) Logger {
	level := InfoLevel
	if verbose {
		level = DebugLevel
	}

	cfg := zapcore.EncoderConfig{
		TimeKey:       "time",
		LevelKey:      "level",
		MessageKey:    "message",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
	}

	var encoder zapcore.Encoder
	if format == LogFormatConsole {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	return loggerFromZapCore(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level))
}
