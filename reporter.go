package minitrace

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Reporter receives every sampled span exactly once, after it finished.
// Report must not block beyond a bounded enqueue.
//
// A Reporter may also implement Flush(context.Context) error and
// Close(context.Context) error; the tracer calls them from its own Flush
// and Close.
type Reporter interface {
	Report(RawSpan)
}

type reportFlusher interface {
	Flush(context.Context) error
}

type reportCloser interface {
	Close(context.Context) error
}

func safeReport(r Reporter, span RawSpan) {
	defer func() {
		if rec := recover(); rec != nil {
			EmitEvent(newEventCollaboratorFailure("reporter", rec))
		}
	}()
	r.Report(span)
}

// NoopReporter discards everything.
type NoopReporter struct{}

func (NoopReporter) Report(RawSpan) {}

// InMemoryReporter keeps finished spans in memory. Useful in tests.
type InMemoryReporter struct {
	lock  sync.Mutex
	spans []RawSpan
}

func NewInMemoryReporter() *InMemoryReporter {
	return &InMemoryReporter{}
}

func (r *InMemoryReporter) Report(span RawSpan) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.spans = append(r.spans, span)
}

// Spans returns a copy of the spans reported so far, in finish order.
func (r *InMemoryReporter) Spans() []RawSpan {
	r.lock.Lock()
	defer r.lock.Unlock()
	spans := make([]RawSpan, len(r.spans))
	copy(spans, r.spans)
	return spans
}

func (r *InMemoryReporter) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.spans = nil
}

type loggingReporter struct {
	logger *zap.Logger
}

// NewLoggingReporter writes one log entry per finished span.
func NewLoggingReporter(logger *zap.Logger) Reporter {
	return &loggingReporter{logger: logger}
}

func (r *loggingReporter) Report(span RawSpan) {
	fields := []zap.Field{
		zap.String("operation", span.Operation),
		zap.Stringer("trace_id", span.Context.TraceID),
		zap.String("span_id", FormatSpanID(span.Context.SpanID)),
		zap.Duration("duration", span.Duration),
		zap.Int("logs", len(span.Logs)),
	}
	if span.ParentSpanID != 0 {
		fields = append(fields, zap.String("parent_span_id", FormatSpanID(span.ParentSpanID)))
	}
	if len(span.Tags) > 0 {
		fields = append(fields, zap.Any("tags", map[string]interface{}(span.Tags)))
	}
	if len(span.Context.Baggage) > 0 {
		fields = append(fields, zap.Any("baggage", span.Context.Baggage))
	}
	r.logger.Info("span finished", fields...)
}

// Flush syncs the logger. Sync errors on terminals are common and ignored.
func (r *loggingReporter) Flush(context.Context) error {
	_ = r.logger.Sync()
	return nil
}
