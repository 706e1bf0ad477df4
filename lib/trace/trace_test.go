package trace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/canonical/ember/ember"
	"github.com/canonical/ember/lib/trace"
)

func newProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.Cleanup(func() {
		err := tp.Shutdown(context.Background())
		assert.NoError(t, err, "TracerProvider shutdown")
	})
	return tp, exporter
}

func attr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpansNestLikeCalls(t *testing.T) {
	tp, exporter := newProvider(t)

	ctx, root := tp.Tracer("test").Start(context.Background(), "root")
	thread := &ember.Thread{Tracer: trace.New(ctx, trace.WithTracerProvider(tp))}
	result, err := ember.Eval(thread, "trace.ember", `[1, 2]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]", result.String())
	root.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 4)

	// Spans are exported as they end, innermost first.
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name
	}
	assert.Equal(t, []string{"<list cell>", "<list cell>", "<toplevel>", "root"}, names)
	for i := 0; i < 3; i++ {
		assert.Equal(t, spans[i+1].SpanContext.SpanID(), spans[i].Parent.SpanID(), "parent of %s", names[i])
		assert.Equal(t, codes.Unset, spans[i].Status.Code)
	}

	depth, ok := attr(spans[0], trace.StackDepthKey)
	require.True(t, ok)
	assert.Equal(t, int64(3), depth.AsInt64())

	file, ok := attr(spans[2], "code.filepath")
	require.True(t, ok)
	assert.Equal(t, "trace.ember", file.AsString())
}

func TestViolationRecorded(t *testing.T) {
	tp, exporter := newProvider(t)

	thread := &ember.Thread{Tracer: trace.New(nil, trace.WithTracerProvider(tp))}
	thread.SetMaxStackDepth(2)
	_, err := ember.Eval(thread, "trace.ember", `[1, 2]`, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ember.ErrSafety)

	// The third frame is never pushed, so it has no span.
	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status.Code, span.Name)

		kind, ok := attr(span, trace.ViolationKindKey)
		require.True(t, ok, span.Name)
		assert.Equal(t, "StackOverflow", kind.AsString())

		limit, ok := attr(span, trace.ViolationLimitKey)
		require.True(t, ok, span.Name)
		assert.Equal(t, int64(2), limit.AsInt64())

		require.NotEmpty(t, span.Events, span.Name)
		assert.Equal(t, "exception", span.Events[0].Name)
	}
}

func TestFilter(t *testing.T) {
	tp, exporter := newProvider(t)

	toplevelOnly := func(fn ember.Callable) bool { return fn.Name() == "<toplevel>" }
	thread := &ember.Thread{Tracer: trace.New(nil, trace.WithTracerProvider(tp), trace.WithFilter(toplevelOnly))}
	_, err := ember.Eval(thread, "trace.ember", `[1, 2, 3]`, nil)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "<toplevel>", spans[0].Name)
}

func TestTracerReusable(t *testing.T) {
	tp, exporter := newProvider(t)

	thread := &ember.Thread{Tracer: trace.New(nil, trace.WithTracerProvider(tp))}
	thread.SetMaxAllocs(10)
	_, err := ember.Eval(thread, "trace.ember", `[1]`, nil)
	require.Error(t, err)
	assert.Empty(t, exporter.GetSpans(), "no frame was pushed")

	thread.SetMaxAllocs(1 << 20)
	_, err = ember.Eval(thread, "trace.ember", `[1]`, nil)
	require.NoError(t, err)
	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.False(t, spans[1].Parent.IsValid(), "toplevel span has a parent")
}
