package log_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/keboola/schedule-coordinator/internal/pkg/ctxattr"
	"github.com/keboola/schedule-coordinator/internal/pkg/log"
)

func TestDebugLogger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := log.NewDebugLogger()

	logger.Debug(ctx, "debug message")
	logger.Infof(ctx, "info %s", "message")
	logger.WithComponent("server").WithComponent("leader").Warn(ctx, "warn message")
	logger.With(attribute.String("taskType", "demo")).Error(ctx, "error message")
	logger.WithDuration(1500*time.Millisecond).Log(ctx, "info", "took")
	logger.Log(ctx, "unknown", "fallback level")

	logger.AssertJSONMessages(t, `
{"level":"debug","message":"debug message"}
{"level":"info","message":"info message"}
{"level":"warn","message":"warn message","component":"server.leader"}
{"level":"error","message":"error message","taskType":"demo"}
{"level":"info","message":"took","duration":"1.5s"}
{"level":"info","message":"fallback level"}
`)

	warnAndError := logger.WarnAndErrorMessages()
	assert.Contains(t, warnAndError, "warn message")
	assert.Contains(t, warnAndError, "error message")
	assert.NotContains(t, warnAndError, "debug message")

	logger.Truncate()
	assert.Empty(t, logger.AllMessages())
	assert.Empty(t, logger.WarnAndErrorMessages())
}

func TestLogger_ContextAttributes(t *testing.T) {
	t.Parallel()

	logger := log.NewDebugLogger()
	ctx := ctxattr.ContextWith(context.Background(), attribute.String("server", "demo$127.0.0.1$ABC$0000000001"))
	logger.Info(ctx, "registered")

	logger.AssertJSONMessages(t, `{"level":"info","message":"registered","server":"demo$127.0.0.1$%s"}`)
}

func TestCompareJSONMessages(t *testing.T) {
	t.Parallel()

	actual := `
{"level":"info","message":"first","count":1}
{"level":"warn","message":"second"}
{"level":"info","message":"third"}
`

	// Extra messages and fields in the actual string are ignored.
	require.NoError(t, log.CompareJSONMessages(`{"message":"first","count":1}`+"\n"+`{"message":"th%s"}`, actual))

	// Order matters.
	err := log.CompareJSONMessages(`{"message":"third"}`+"\n"+`{"message":"first"}`, actual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Expected:`)

	// Invalid JSON.
	err = log.CompareJSONMessages(`{foo`, actual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string contains invalid json")
}

func TestNewServiceLogger(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := log.NewServiceLogger(&out, false, log.LogFormatJSON)
	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "visible")
	require.NoError(t, logger.Sync())

	log.AssertJSONMessages(t, `{"level":"info","message":"visible","time":"%s"}`, out.String())
	assert.NotContains(t, out.String(), "hidden")

	out.Reset()
	logger = log.NewServiceLogger(&out, true, log.LogFormatConsole)
	logger.Debug(context.Background(), "visible debug")
	assert.Contains(t, out.String(), "DEBUG")
	assert.Contains(t, out.String(), "visible debug")
}

func TestNewLogFormat(t *testing.T) {
	t.Parallel()

	format, err := log.NewLogFormat("json")
	require.NoError(t, err)
	assert.Equal(t, log.LogFormatJSON, format)

	format, err = log.NewLogFormat("xml")
	require.Error(t, err)
	assert.Equal(t, log.LogFormatConsole, format)
}

func TestCallbackLogger(t *testing.T) {
	t.Parallel()

	var entries []zapcore.Entry
	var fields [][]zapcore.Field
	logger := log.NewCallbackLogger(func(entry zapcore.Entry, f []zapcore.Field) {
		entries = append(entries, entry)
		fields = append(fields, f)
	})

	logger.WithComponent("etcd.client").Warn(context.Background(), "retrying")
	require.Len(t, entries, 1)
	assert.Equal(t, log.WarnLevel, entries[0].Level)
	assert.Equal(t, "retrying", entries[0].Message)
	require.Len(t, fields[0], 1)
	assert.Equal(t, "component", fields[0][0].Key)
	assert.Equal(t, "etcd.client", fields[0][0].String)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()
	logger := log.NewNopLogger()
	logger.Info(context.Background(), "nothing")
	assert.NoError(t, logger.Sync())
}
