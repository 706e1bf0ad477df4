// Package trace reports the calls made by Ember threads as OpenTelemetry
// spans.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/canonical/ember/ember"
)

// DefaultTracerName names the OpenTelemetry tracer used when none is
// configured.
const DefaultTracerName = "github.com/canonical/ember"

// Span attributes recorded on calls aborted by a resource limit.
const (
	ViolationKindKey  = attribute.Key("ember.violation.kind")
	ViolationLimitKey = attribute.Key("ember.violation.limit")
	StackDepthKey     = attribute.Key("ember.stack.depth")
	AllocsKey         = attribute.Key("ember.allocs")
)

// An Option configures a Tracer.
type Option func(*Tracer)

// WithTracerProvider sets the provider of the OpenTelemetry tracer. The
// global provider is used by default.
func WithTracerProvider(provider oteltrace.TracerProvider) Option {
	return func(t *Tracer) { t.provider = provider }
}

// WithTracerName sets the name of the OpenTelemetry tracer.
func WithTracerName(name string) Option {
	return func(t *Tracer) { t.name = name }
}

// WithFilter restricts tracing to the callables for which keep returns
// true. Calls made by skipped callables are still traced.
func WithFilter(keep func(fn ember.Callable) bool) Option {
	return func(t *Tracer) { t.keep = keep }
}

// Tracer is an ember.CallTracer which starts one span per call. Spans
// nest as the calls do, under the span of the context the Tracer was
// created with. A Tracer may serve one thread at a time.
type Tracer struct {
	provider oteltrace.TracerProvider
	name     string
	keep     func(fn ember.Callable) bool

	tracer oteltrace.Tracer
	ctx    context.Context
}

var _ ember.CallTracer = &Tracer{}

// New returns a Tracer whose spans are children of the span in ctx, if
// any. If ctx is nil, the context of the traced thread is used.
func New(ctx context.Context, opts ...Option) *Tracer {
	t := &Tracer{
		name: DefaultTracerName,
		ctx:  ctx,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.provider == nil {
		t.provider = otel.GetTracerProvider()
	}
	t.tracer = t.provider.Tracer(t.name)
	return t
}

// StartCall implements ember.CallTracer.
func (t *Tracer) StartCall(thread *ember.Thread, fn ember.Callable) func(err error) {
	if t.keep != nil && !t.keep(fn) {
		return func(error) {}
	}

	prev := t.ctx
	parent := prev
	if parent == nil {
		parent = thread.Context()
	}
	frame := thread.CallFrame(0)
	depth := thread.CallStackDepth()

	attrs := []attribute.KeyValue{
		semconv.CodeFunction(frame.Name),
		StackDepthKey.Int(depth),
	}
	if frame.Pos.IsValid() {
		attrs = append(attrs,
			semconv.CodeFilepath(frame.Pos.Filename()),
			semconv.CodeLineNumber(int(frame.Pos.Line)),
			semconv.CodeColumn(int(frame.Pos.Col)),
		)
	}
	ctx, span := t.tracer.Start(parent, frame.Name, oteltrace.WithAttributes(attrs...))
	t.ctx = ctx

	return func(err error) {
		defer func() {
			span.End()
			t.ctx = prev
		}()

		if allocs, ok := thread.Allocs(); ok {
			span.SetAttributes(AllocsKey.Int64(allocs))
		}
		if err == nil {
			return
		}
		if v, ok := ember.ViolationOf(err); ok {
			span.SetAttributes(
				ViolationKindKey.String(v.Kind.String()),
				ViolationLimitKey.Int64(int64(v.Limit)),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
