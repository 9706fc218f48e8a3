// Package ocbridge replays OpenCensus spans into a minitrace Tracer, so that
// code instrumented with OpenCensus reports through the same pipeline.
//
//	exporter := ocbridge.NewExporter(tracer)
//	trace.RegisterExporter(exporter)
package ocbridge

import (
	"context"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/ocbridge/internal/conversions"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
	"go.opencensus.io/trace"
)

const (
	StatusCodeTagKey    = "opencensus.status_code"
	StatusMessageTagKey = "opencensus.status_message"
)

// Option configures an Exporter.
type Option func(*config)

// WithComponentName tags every exported span with ext.Component.
func WithComponentName(componentName string) Option {
	return func(c *config) {
		c.componentName = componentName
	}
}

type config struct {
	componentName string
}

// Exporter implements trace.Exporter.
type Exporter struct {
	tracer minitrace.Tracer
	config config
}

var _ trace.Exporter = &Exporter{}

// NewExporter exports into tracer. The caller keeps ownership of tracer and
// closes it.
func NewExporter(tracer minitrace.Tracer, opts ...Option) *Exporter {
	e := &Exporter{tracer: tracer}
	for _, opt := range opts {
		opt(&e.config)
	}
	return e
}

// ExportSpan records sd as a finished minitrace span with the same ids.
func (e *Exporter) ExportSpan(sd *trace.SpanData) {
	traceID, ok := conversions.ConvertTraceID(sd.SpanContext.TraceID)
	if !ok {
		return
	}

	opts := []opentracing.StartSpanOption{
		opentracing.StartTime(sd.StartTime),
	}

	if spanID, ok := conversions.ConvertSpanID(sd.SpanContext.SpanID); ok {
		opts = append(opts, minitrace.SetSpanID(spanID))
	}

	if parentSpanID, ok := conversions.ConvertSpanID(sd.ParentSpanID); ok {
		opts = append(opts, opentracing.ChildOf(minitrace.SpanContext{
			TraceID: traceID,
			SpanID:  parentSpanID,
			Sampled: sd.SpanContext.IsSampled(),
		}))
	} else {
		opts = append(opts,
			minitrace.SetTraceID(traceID),
			minitrace.SetSampled(sd.SpanContext.IsSampled()),
		)
	}

	for _, link := range sd.Links {
		refType := opentracing.FollowsFromRef
		if link.Type == trace.LinkTypeParent {
			refType = opentracing.ChildOfRef
		}
		opts = append(opts, opentracing.SpanReference{
			Type:              refType,
			ReferencedContext: conversions.ConvertLinkToSpanContext(link),
		})
	}

	switch sd.SpanKind {
	case trace.SpanKindServer:
		opts = append(opts, ext.SpanKindRPCServer)
	case trace.SpanKindClient:
		opts = append(opts, ext.SpanKindRPCClient)
	}

	if e.config.componentName != "" {
		opts = append(opts, opentracing.Tag{Key: string(ext.Component), Value: e.config.componentName})
	}

	span := e.tracer.StartSpan(sd.Name, opts...)

	for _, entry := range sd.SpanContext.Tracestate.Entries() {
		span.SetBaggageItem(entry.Key, entry.Value)
	}

	if sd.Status.Code != trace.StatusCodeOK {
		ext.Error.Set(span, true)
		span.SetTag(StatusCodeTagKey, sd.Status.Code)
		if sd.Status.Message != "" {
			span.SetTag(StatusMessageTagKey, sd.Status.Message)
		}
	}

	for k, v := range sd.Attributes {
		span.SetTag(k, v)
	}

	var logRecords []opentracing.LogRecord
	for _, annotation := range sd.Annotations {
		fields := []log.Field{log.String("event", annotation.Message)}
		for k, v := range annotation.Attributes {
			fields = append(fields, log.Object(k, v))
		}
		logRecords = append(logRecords, opentracing.LogRecord{
			Timestamp: annotation.Time,
			Fields:    fields,
		})
	}

	span.FinishWithOptions(opentracing.FinishOptions{
		FinishTime: sd.EndTime,
		LogRecords: logRecords,
	})
}

// Flush sends what the tracer's reporter holds.
func (e *Exporter) Flush(ctx context.Context) error {
	return e.tracer.Flush(ctx)
}
