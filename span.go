package minitrace

import (
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
)

var _ opentracing.Span = &Span{}

// Span records one unit of work. It is owned by the code that started it
// until Finish; afterwards it is frozen and every mutation is reported as
// misuse and ignored.
type Span struct {
	tracer *tracerImpl

	lock     sync.Mutex
	raw      RawSpan
	finished bool
}

func (s *Span) Finish() {
	s.FinishWithOptions(opentracing.FinishOptions{})
}

func (s *Span) FinishWithOptions(opts opentracing.FinishOptions) {
	s.lock.Lock()
	if s.finished {
		operation := s.raw.Operation
		s.lock.Unlock()
		EmitEvent(newEventMisuse(misuse(ErrSpanFinished, "finish %q", operation)))
		return
	}
	s.finished = true

	if opts.FinishTime.IsZero() {
		s.raw.Duration = s.tracer.opts.Clock.Since(s.raw.Start)
	} else {
		s.raw.Duration = opts.FinishTime.Sub(s.raw.Start)
	}
	for _, lr := range opts.LogRecords {
		s.appendLogLocked(lr)
	}
	for _, ld := range opts.BulkLogData {
		s.appendLogLocked(ld.ToLogRecord())
	}
	raw := s.raw
	s.lock.Unlock()

	s.tracer.finishSpan(s, raw)
}

// mutate runs fn under the span lock unless the span is finished.
func (s *Span) mutate(what string, fn func()) {
	s.lock.Lock()
	if s.finished {
		operation := s.raw.Operation
		s.lock.Unlock()
		EmitEvent(newEventMisuse(misuse(ErrSpanFinished, "%s on %q", what, operation)))
		return
	}
	fn()
	s.lock.Unlock()
}

func (s *Span) appendLogLocked(lr opentracing.LogRecord) {
	if lr.Timestamp.IsZero() {
		lr.Timestamp = s.tracer.opts.Clock.Now()
	}
	s.raw.Logs = append(s.raw.Logs, lr)
}

func (s *Span) Context() opentracing.SpanContext {
	return s.SpanContext()
}

// SpanContext is Context without the interface conversion.
func (s *Span) SpanContext() SpanContext {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.raw.Context
}

func (s *Span) SetOperationName(operationName string) opentracing.Span {
	s.mutate("SetOperationName", func() {
		s.raw.Operation = operationName
	})
	return s
}

func (s *Span) SetTag(key string, value interface{}) opentracing.Span {
	s.mutate("SetTag", func() {
		s.raw.Tags[key] = value
	})
	return s
}

func (s *Span) LogFields(fields ...log.Field) {
	s.mutate("LogFields", func() {
		s.appendLogLocked(opentracing.LogRecord{Fields: fields})
	})
}

func (s *Span) LogKV(alternatingKeyValues ...interface{}) {
	fields, err := log.InterleavedKVToFields(alternatingKeyValues...)
	if err != nil {
		s.LogFields(log.Error(err), log.String("function", "LogKV"))
		return
	}
	s.LogFields(fields...)
}

// SetBaggageItem extends this span's baggage. Children started afterwards
// inherit the item; contexts handed out earlier are unchanged. Keys are
// lower-cased; keys that cannot travel as an HTTP header name are rejected.
func (s *Span) SetBaggageItem(restrictedKey, value string) opentracing.Span {
	key, ok := normalizeBaggageKey(restrictedKey)
	if !ok {
		EmitEvent(newEventMisuse(misuse(ErrInvalidBaggageKey, "%q", restrictedKey)))
		return s
	}
	s.mutate("SetBaggageItem", func() {
		s.raw.Context = s.raw.Context.WithBaggageItem(key, value)
	})
	return s
}

func (s *Span) BaggageItem(restrictedKey string) string {
	key, ok := normalizeBaggageKey(restrictedKey)
	if !ok {
		return ""
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.raw.Context.Baggage[key]
}

func (s *Span) Tracer() opentracing.Tracer {
	return s.tracer
}

func (s *Span) LogEvent(event string) {
	s.Log(opentracing.LogData{Event: event})
}

func (s *Span) LogEventWithPayload(event string, payload interface{}) {
	s.Log(opentracing.LogData{Event: event, Payload: payload})
}

func (s *Span) Log(ld opentracing.LogData) {
	s.mutate("Log", func() {
		s.appendLogLocked(ld.ToLogRecord())
	})
}

func (s *Span) OperationName() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.raw.Operation
}

// ParentSpanID is 0 for root spans.
func (s *Span) ParentSpanID() uint64 {
	return s.raw.ParentSpanID
}

func (s *Span) References() []Reference {
	return s.raw.References
}

func (s *Span) StartTime() time.Time {
	return s.raw.Start
}

// Tags returns a copy of the current tags.
func (s *Span) Tags() opentracing.Tags {
	s.lock.Lock()
	defer s.lock.Unlock()
	tags := make(opentracing.Tags, len(s.raw.Tags))
	for k, v := range s.raw.Tags {
		tags[k] = v
	}
	return tags
}

// Logs returns a copy of the log records so far.
func (s *Span) Logs() []opentracing.LogRecord {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]opentracing.LogRecord(nil), s.raw.Logs...)
}

func (s *Span) IsFinished() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.finished
}
