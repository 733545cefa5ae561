// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"bytes"
	"sync"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

// DebugLogger returns logs as string in tests.
type DebugLogger interface {
	Logger
	Truncate()
	AllMessages() string
	WarnAndErrorMessages() string
	CompareJSONMessages(expected string) error
	AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool
}

type debugLogger struct {
	*zapLogger
	all         *syncBuffer
	warnOrError *syncBuffer
}

type syncBuffer struct {
	lock *sync.Mutex
	buf  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error {
	return nil
}

func (b *syncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.buf.Reset()
}

// NewDebugLogger returns a logger that stores all messages as JSON lines, without timestamps.
func NewDebugLogger() DebugLogger {
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "message",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})

	all := &syncBuffer{lock: &sync.Mutex{}}
	warnOrError := &syncBuffer{lock: &sync.Mutex{}}
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, all, DebugLevel),
		zapcore.NewCore(encoder.Clone(), warnOrError, WarnLevel),
	)

	return &debugLogger{zapLogger: loggerFromZapCore(core), all: all, warnOrError: warnOrError}
}

func (l *debugLogger) Truncate() {
	l.all.Reset()
	l.warnOrError.Reset()
}

func (l *debugLogger) AllMessages() string {
	return l.all.String()
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.warnOrError.String()
}

func (l *debugLogger) CompareJSONMessages(expected string) error {
	return CompareJSONMessages(expected, l.AllMessages())
}

func (l *debugLogger) AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool {
	return AssertJSONMessages(t, expected, l.AllMessages(), msgAndArgs...)
}
