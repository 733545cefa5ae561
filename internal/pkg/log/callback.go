// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"go.uber.org/zap/zapcore"
)

type CallbackFn func(entry zapcore.Entry, fields []zapcore.Field)

// callbackCore is a zapcore.Core that passes each entry to the callback.
// It is used to redirect logs of third-party libraries, for example the etcd client, to our Logger.
type callbackCore struct {
	zapcore.LevelEnabler
	fields   []zapcore.Field
	callback CallbackFn
}

func NewCallbackCore(fn CallbackFn) zapcore.Core {
	return &callbackCore{LevelEnabler: DebugLevel, callback: fn}
}

// NewCallbackLogger returns a Logger that passes each message to the callback.
func NewCallbackLogger(fn CallbackFn) Logger {
	return loggerFromZapCore(NewCallbackCore(fn))
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *callbackCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *callbackCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = append(append([]zapcore.Field{}, c.fields...), fields...)
	}
	c.callback(entry, all)
	return nil
}

func (c *callbackCore) Sync() error {
	return nil
}
