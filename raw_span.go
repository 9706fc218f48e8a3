package minitrace

import (
	"time"

	opentracing "github.com/opentracing/opentracing-go"
)

// RawSpan encapsulates all state associated with a (finished) Span. It is
// what a Reporter receives.
type RawSpan struct {
	// Those recording the RawSpan should also record the contents of its
	// SpanContext.
	Context SpanContext

	// The SpanID of this SpanContext's first intra-trace reference (i.e.,
	// "parent"), or 0 if there is no parent.
	ParentSpanID uint64

	// The name of the "operation" this span is an instance of. (Called a "span
	// name" in some implementations)
	Operation string

	// We store <start, duration> rather than <start, end> so that only
	// one of the timestamps has global clock uncertainty issues.
	Start    time.Time
	Duration time.Duration

	// Essentially an extension mechanism. Can be used for many purposes,
	// not to be enumerated here.
	Tags opentracing.Tags

	// The span's "microlog".
	Logs []opentracing.LogRecord

	// Causal references in the order they were given.
	References []Reference
}

// FinishTime is Start plus Duration.
func (r RawSpan) FinishTime() time.Time {
	return r.Start.Add(r.Duration)
}

// Reference links a span to the context of another span.
type Reference struct {
	Type    opentracing.SpanReferenceType
	Context SpanContext
}
