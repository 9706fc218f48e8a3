package minitrace

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"
)

// Tracer starts spans, moves their contexts across process boundaries and
// hands finished spans to a Reporter.
type Tracer interface {
	opentracing.Tracer

	// BuildSpan returns a builder for a span named operationName.
	BuildSpan(operationName string, opts ...opentracing.StartSpanOption) *SpanBuilder

	// ActiveSpan returns the innermost active span of ctx, or nil.
	ActiveSpan(ctx context.Context) *Span

	// ExtractContext is Extract for callers that only care whether a parent
	// was found. Missing contexts yield nil; malformed ones yield nil and an
	// EventMalformedCarrier.
	ExtractContext(format interface{}, carrier interface{}) *SpanContext

	// Flush forces a buffering Reporter to send what it holds.
	Flush(ctx context.Context) error

	// Close reports spans that were never finished, then flushes and closes
	// the Reporter. A tracer is closed once.
	Close(ctx context.Context) error

	// Options returns the effective configuration.
	Options() Options
}

// tracerImpl is the minitrace implementation of Tracer.
type tracerImpl struct {
	opts   Options
	open   *openSpans
	closed atomic.Bool
}

// NewTracer creates a tracer. Without options it samples everything and
// discards finished spans.
func NewTracer(opts ...Option) Tracer {
	options := defaultOptions()
	for _, o := range opts {
		o(options)
	}
	return &tracerImpl{
		opts: *options,
		open: newOpenSpans(),
	}
}

// Options returns a copy; changing its maps does not affect the tracer.
func (t *tracerImpl) Options() Options {
	opts := t.opts
	opts.Tags = make(opentracing.Tags, len(t.opts.Tags))
	for k, v := range t.opts.Tags {
		opts.Tags[k] = v
	}
	opts.Propagators = make(map[interface{}]Propagator, len(t.opts.Propagators))
	for k, v := range t.opts.Propagators {
		opts.Propagators[k] = v
	}
	return opts
}

func (t *tracerImpl) BuildSpan(operationName string, opts ...opentracing.StartSpanOption) *SpanBuilder {
	return &SpanBuilder{
		tracer:    t,
		operation: operationName,
		opts:      append([]opentracing.StartSpanOption(nil), opts...),
	}
}

// StartSpan has no context to take an implicit parent from; only explicit
// references count.
func (t *tracerImpl) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return t.startSpan(operationName, newStartSpanOptions(opts))
}

func (t *tracerImpl) ActiveSpan(ctx context.Context) *Span {
	return activeSpan(ctx)
}

func (t *tracerImpl) startSpan(operationName string, sso startSpanOptions) *Span {
	start := sso.StartTime
	if start.IsZero() {
		start = t.opts.Clock.Now()
	}

	tags := make(opentracing.Tags, len(t.opts.Tags)+len(sso.Tags)+1)
	for k, v := range t.opts.Tags {
		tags[k] = v
	}
	tags[ServiceNameKey] = t.opts.ServiceName
	for k, v := range sso.Tags {
		tags[k] = v
	}

	raw := RawSpan{
		Operation: operationName,
		Start:     start,
		Tags:      tags,
	}

	parent, refs := selectParent(sso.References)
	raw.References = refs

	spanID := sso.spanID
	if spanID == 0 {
		spanID = genSpanID()
	}

	if parent != nil {
		raw.Context = SpanContext{
			TraceID:      parent.TraceID,
			SpanID:       spanID,
			ParentSpanID: parent.SpanID,
			Sampled:      parent.Sampled,
			Baggage:      parent.Baggage,
		}
	} else {
		traceID := sso.traceID
		if !traceID.IsValid() {
			traceID = genTraceID()
		}
		var sampled bool
		if sso.sampled != nil {
			sampled = *sso.sampled
		} else {
			sampled = safeSample(t.opts.Sampler, traceID, operationName)
		}
		raw.Context = SpanContext{
			TraceID: traceID,
			SpanID:  spanID,
			Sampled: sampled,
		}
	}
	if sso.parentSpanID != 0 {
		raw.Context.ParentSpanID = sso.parentSpanID
	}
	raw.ParentSpanID = raw.Context.ParentSpanID

	span := &Span{tracer: t, raw: raw}
	t.open.add(span)
	return span
}

// selectParent keeps the references that point at minitrace contexts and
// picks the parent among them: the first ChildOf, else the first reference.
func selectParent(references []opentracing.SpanReference) (*SpanContext, []Reference) {
	var (
		refs   []Reference
		parent *SpanContext
	)
	for _, ref := range references {
		sc, ok := asSpanContext(ref.ReferencedContext)
		if !ok || !sc.IsValid() {
			continue
		}
		refs = append(refs, Reference{Type: ref.Type, Context: sc})
	}
	for i := range refs {
		if refs[i].Type == opentracing.ChildOfRef {
			parent = &refs[i].Context
			break
		}
	}
	if parent == nil && len(refs) > 0 {
		parent = &refs[0].Context
	}
	return parent, refs
}

func (t *tracerImpl) finishSpan(s *Span, raw RawSpan) {
	t.open.remove(s)
	if t.closed.Load() {
		EmitEvent(newEventMisuse(misuse(ErrTracerClosed, "finish %q", raw.Operation)))
		return
	}
	if raw.Context.Sampled {
		safeReport(t.opts.Reporter, raw)
	}
}

func (t *tracerImpl) propagator(format interface{}) (Propagator, bool) {
	p, ok := t.opts.Propagators[format]
	return p, ok && p != nil
}

func (t *tracerImpl) Inject(sc opentracing.SpanContext, format interface{}, carrier interface{}) error {
	p, ok := t.propagator(format)
	if !ok {
		return opentracing.ErrUnsupportedFormat
	}
	return p.Inject(sc, carrier)
}

func (t *tracerImpl) Extract(format interface{}, carrier interface{}) (opentracing.SpanContext, error) {
	p, ok := t.propagator(format)
	if !ok {
		return nil, opentracing.ErrUnsupportedFormat
	}
	return p.Extract(carrier)
}

func (t *tracerImpl) ExtractContext(format interface{}, carrier interface{}) *SpanContext {
	extracted, err := t.Extract(format, carrier)
	if err == opentracing.ErrSpanContextNotFound {
		return nil
	}
	if err != nil {
		EmitEvent(newEventMalformedCarrier(format, err))
		return nil
	}
	sc, ok := asSpanContext(extracted)
	if !ok || !sc.IsValid() {
		EmitEvent(newEventMalformedCarrier(format, opentracing.ErrSpanContextCorrupted))
		return nil
	}
	return &sc
}

func (t *tracerImpl) Flush(ctx context.Context) error {
	if f, ok := t.opts.Reporter.(reportFlusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (t *tracerImpl) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		err := misuse(ErrTracerClosed, "close")
		EmitEvent(newEventMisuse(err))
		return err
	}

	if unfinished := t.open.drain(); len(unfinished) > 0 {
		EmitEvent(newEventUnfinishedSpans(unfinished))
	}

	switch r := t.opts.Reporter.(type) {
	case reportCloser:
		return r.Close(ctx)
	case reportFlusher:
		return r.Flush(ctx)
	}
	return nil
}
