package conversions

import (
	"encoding/binary"

	"github.com/lightstep/minitrace-go"
	"go.opencensus.io/trace"
)

// ConvertTraceID reads the 16 OpenCensus bytes as high then low half.
func ConvertTraceID(original trace.TraceID) (minitrace.TraceID, bool) {
	traceID := minitrace.TraceID{
		High: binary.BigEndian.Uint64(original[:8]),
		Low:  binary.BigEndian.Uint64(original[8:]),
	}
	return traceID, traceID.IsValid()
}

func ConvertSpanID(original trace.SpanID) (uint64, bool) {
	spanID := binary.BigEndian.Uint64(original[:])
	return spanID, spanID != 0
}

// ConvertLinkToSpanContext keeps string attributes of the link as baggage.
func ConvertLinkToSpanContext(link trace.Link) minitrace.SpanContext {
	spanContext := minitrace.SpanContext{
		Sampled: true,
	}

	if traceID, ok := ConvertTraceID(link.TraceID); ok {
		spanContext.TraceID = traceID
	}

	if spanID, ok := ConvertSpanID(link.SpanID); ok {
		spanContext.SpanID = spanID
	}

	for k, v := range link.Attributes {
		if attribute, ok := v.(string); ok {
			spanContext = spanContext.WithBaggageItem(k, attribute)
		}
	}

	return spanContext
}
