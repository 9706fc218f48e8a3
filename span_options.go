package minitrace

import (
	opentracing "github.com/opentracing/opentracing-go"
)

// startSpanOptions extends the OpenTracing options with the minitrace
// specific ones.
type startSpanOptions struct {
	opentracing.StartSpanOptions

	ignoreActiveSpan bool
	traceID          TraceID
	spanID           uint64
	parentSpanID     uint64
	sampled          *bool
}

// minitraceStartSpanOption is implemented by options that only this tracer
// understands. Their opentracing Apply is a no-op so that other tracers
// ignore them.
type minitraceStartSpanOption interface {
	applyMT(*startSpanOptions)
}

func newStartSpanOptions(opts []opentracing.StartSpanOption) startSpanOptions {
	var sso startSpanOptions
	for _, o := range opts {
		o.Apply(&sso.StartSpanOptions)
		if mo, ok := o.(minitraceStartSpanOption); ok {
			mo.applyMT(&sso)
		}
	}
	return sso
}

type ignoreActiveSpan struct{}

// IgnoreActiveSpan starts the span without an implicit parent, even when the
// context passed to Start carries an active span.
func IgnoreActiveSpan() opentracing.StartSpanOption {
	return ignoreActiveSpan{}
}

func (ignoreActiveSpan) Apply(*opentracing.StartSpanOptions) {}
func (ignoreActiveSpan) applyMT(sso *startSpanOptions) {
	sso.ignoreActiveSpan = true
}

// SetTraceID overrides the trace id of a root span. It has no effect when a
// parent is given.
type SetTraceID TraceID

func (SetTraceID) Apply(*opentracing.StartSpanOptions) {}
func (id SetTraceID) applyMT(sso *startSpanOptions) {
	sso.traceID = TraceID(id)
}

// SetSpanID overrides the generated span id.
type SetSpanID uint64

func (SetSpanID) Apply(*opentracing.StartSpanOptions) {}
func (id SetSpanID) applyMT(sso *startSpanOptions) {
	sso.spanID = uint64(id)
}

// SetParentSpanID overrides the recorded parent span id.
type SetParentSpanID uint64

func (SetParentSpanID) Apply(*opentracing.StartSpanOptions) {}
func (id SetParentSpanID) applyMT(sso *startSpanOptions) {
	sso.parentSpanID = uint64(id)
}

// SetSampled overrides the sampler for a root span.
type SetSampled bool

func (SetSampled) Apply(*opentracing.StartSpanOptions) {}
func (s SetSampled) applyMT(sso *startSpanOptions) {
	sampled := bool(s)
	sso.sampled = &sampled
}
