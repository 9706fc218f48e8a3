package minitrace

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
)

// Flush forces a synchronous Flush of a tracer held as opentracing.Tracer,
// for example the global one.
func Flush(ctx context.Context, tracer opentracing.Tracer) error {
	mtTracer, ok := tracer.(Tracer)
	if !ok {
		EmitEvent(newEventUnsupportedTracer(tracer))
		return newErrNotMiniTracer(tracer)
	}
	return mtTracer.Flush(ctx)
}

// Close synchronously flushes the tracer, then terminates it.
func Close(ctx context.Context, tracer opentracing.Tracer) error {
	mtTracer, ok := tracer.(Tracer)
	if !ok {
		EmitEvent(newEventUnsupportedTracer(tracer))
		return newErrNotMiniTracer(tracer)
	}
	return mtTracer.Close(ctx)
}

// StartActiveSpanFromContext starts a span under the active span of ctx with
// a minitrace tracer, or falls back to opentracing.StartSpanFromContext with
// any other tracer.
func StartActiveSpanFromContext(ctx context.Context, tracer opentracing.Tracer, operationName string, opts ...opentracing.StartSpanOption) (opentracing.Span, context.Context, func()) {
	if mtTracer, ok := tracer.(Tracer); ok {
		scope, ctx := mtTracer.BuildSpan(operationName, opts...).StartActive(ctx, true)
		return scope.Span(), ctx, scope.Close
	}
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, tracer, operationName, opts...)
	return span, ctx, span.Finish
}
