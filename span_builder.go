package minitrace

import (
	"context"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
)

// SpanBuilder collects the parameters of a span before it starts.
//
// Unless a reference is added or IgnoreActiveSpan is set, Start and
// StartActive make the active span of their context the ChildOf parent.
type SpanBuilder struct {
	tracer    *tracerImpl
	operation string
	opts      []opentracing.StartSpanOption
}

// AsChildOf adds a ChildOf reference. A nil parent is ignored.
func (b *SpanBuilder) AsChildOf(parent opentracing.SpanContext) *SpanBuilder {
	return b.AddReference(opentracing.ChildOfRef, parent)
}

// AddReference adds a reference of the given type. A nil context is ignored.
func (b *SpanBuilder) AddReference(refType opentracing.SpanReferenceType, referenced opentracing.SpanContext) *SpanBuilder {
	b.opts = append(b.opts, opentracing.SpanReference{Type: refType, ReferencedContext: referenced})
	return b
}

func (b *SpanBuilder) WithTag(key string, value interface{}) *SpanBuilder {
	b.opts = append(b.opts, opentracing.Tag{Key: key, Value: value})
	return b
}

func (b *SpanBuilder) WithStartTime(t time.Time) *SpanBuilder {
	b.opts = append(b.opts, opentracing.StartTime(t))
	return b
}

func (b *SpanBuilder) IgnoreActiveSpan() *SpanBuilder {
	b.opts = append(b.opts, IgnoreActiveSpan())
	return b
}

// Start starts the span without making it active.
func (b *SpanBuilder) Start(ctx context.Context) *Span {
	sso := newStartSpanOptions(b.opts)
	if len(sso.References) == 0 && !sso.ignoreActiveSpan {
		if parent := activeSpan(ctx); parent != nil {
			sso.References = []opentracing.SpanReference{
				opentracing.ChildOf(parent.Context()),
			}
		}
	}
	return b.tracer.startSpan(b.operation, sso)
}

// StartActive starts the span and pushes it on the active-span stack of ctx.
// Use the returned context for work under the span and close the scope when
// that work is done:
//
//	scope, ctx := tracer.BuildSpan("op").StartActive(ctx, true)
//	defer scope.Close()
func (b *SpanBuilder) StartActive(ctx context.Context, finishSpanOnClose bool) (*Scope, context.Context) {
	span := b.Start(ctx)
	return activate(ctx, span, finishSpanOnClose)
}
