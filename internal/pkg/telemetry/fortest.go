package telemetry

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// ForTest records ended spans, trace and span ids are sequential.
type ForTest interface {
	Telemetry
	TraceID(n int) trace.TraceID
	SpanID(n int) trace.SpanID
	Spans() tracetest.SpanStubs
	Reset()
	AssertSpans(t *testing.T, expected tracetest.SpanStubs, msgAndArgs ...any) bool
}

type forTest struct {
	Telemetry
	recorder    *tracetest.SpanRecorder
	idGenerator *testIDGenerator
}

type testIDGenerator struct {
	lock        sync.Mutex
	lastTraceID int
	lastSpanID  int
}

func NewForTest(t *testing.T) ForTest {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	idGenerator := &testIDGenerator{}
	provider := tracesdk.NewTracerProvider(
		tracesdk.WithSpanProcessor(recorder),
		tracesdk.WithIDGenerator(idGenerator),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	return &forTest{Telemetry: New(provider), recorder: recorder, idGenerator: idGenerator}
}

func (v *forTest) TraceID(n int) trace.TraceID {
	return v.idGenerator.traceID(n)
}

func (v *forTest) SpanID(n int) trace.SpanID {
	return v.idGenerator.spanID(n)
}

func (v *forTest) Spans() tracetest.SpanStubs {
	return tracetest.SpanStubsFromReadOnlySpans(v.recorder.Ended())
}

func (v *forTest) Reset() {
	v.recorder.Reset()
	v.idGenerator.reset()
}

// AssertSpans compares spans without timestamps, resources and the instrumentation scope.
func (v *forTest) AssertSpans(t *testing.T, expected tracetest.SpanStubs, msgAndArgs ...any) bool {
	t.Helper()
	return assert.Equal(t, cleanSpans(expected), cleanSpans(v.Spans()), msgAndArgs...)
}

func cleanSpans(in tracetest.SpanStubs) tracetest.SpanStubs {
	out := make(tracetest.SpanStubs, 0, len(in))
	for _, s := range in {
		clean := tracetest.SpanStub{
			Name:           s.Name,
			SpanKind:       s.SpanKind,
			SpanContext:    s.SpanContext,
			Parent:         s.Parent,
			Status:         s.Status,
			ChildSpanCount: s.ChildSpanCount,
		}
		if len(s.Attributes) > 0 {
			clean.Attributes = s.Attributes
		}
		for _, event := range s.Events {
			clean.Events = append(clean.Events, tracesdk.Event{Name: event.Name})
		}
		out = append(out, clean)
	}
	return out
}

func (g *testIDGenerator) NewIDs(context.Context) (trace.TraceID, trace.SpanID) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.lastTraceID++
	g.lastSpanID++
	return g.traceID(g.lastTraceID), g.spanID(g.lastSpanID)
}

func (g *testIDGenerator) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.lastSpanID++
	return g.spanID(g.lastSpanID)
}

func (g *testIDGenerator) reset() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.lastTraceID = 0
	g.lastSpanID = 0
}

func (g *testIDGenerator) traceID(n int) trace.TraceID {
	out := trace.TraceID{}
	binary.BigEndian.PutUint64(out[8:], uint64(n))
	return out
}

func (g *testIDGenerator) spanID(n int) trace.SpanID {
	out := trace.SpanID{}
	binary.BigEndian.PutUint64(out[:], uint64(n))
	return out
}
