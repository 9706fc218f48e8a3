package minitrace

import (
	"strconv"

	"github.com/pkg/errors"
)

const (
	b3Prefix                = "x-b3-"
	b3FieldNameTraceID      = b3Prefix + "traceid"
	b3FieldNameSpanID       = b3Prefix + "spanid"
	b3FieldNameParentSpanID = b3Prefix + "parentspanid"
	b3FieldNameSampled      = b3Prefix + "sampled"
)

// B3Propagator speaks the Zipkin B3 multi-header format. Baggage travels
// with the same baggage- prefix as the default text format. It is not
// registered by default; install it with WithPropagator, alone or in a
// PropagatorStack.
var B3Propagator Propagator = textPropagator{
	fields: textFields{
		traceIDKey:      b3FieldNameTraceID,
		spanIDKey:       b3FieldNameSpanID,
		parentSpanIDKey: b3FieldNameParentSpanID,
		sampledKey:      b3FieldNameSampled,
		formatTrace:     TraceID.String,
		parseTrace:      b3TraceIDParser,
		parseSpan:       b3SpanIDParser,
		parseSampled:    b3SampledParser,
	},
	encodeBaggage: true,
}

// b3TraceIDParser handles both 64-bit (16 hex digits) and 128-bit ids.
func b3TraceIDParser(v string) (TraceID, error) {
	switch len(v) {
	case 32:
		return ParseTraceID(v)
	case 16:
		low, err := parseHex64(v)
		return TraceID{Low: low}, err
	}
	return TraceID{}, errors.Errorf("b3 trace id %q: want 16 or 32 hex digits", v)
}

// b3SpanIDParser tolerates ids written without leading zeros.
func b3SpanIDParser(v string) (uint64, error) {
	if len(v) == 0 || len(v) > 16 {
		return 0, errors.Errorf("b3 span id %q: want up to 16 hex digits", v)
	}
	return parseHex64(v)
}

func b3SampledParser(v string) (bool, error) {
	switch v {
	case "1", "d":
		return true, nil
	case "0":
		return false, nil
	}
	sampled, err := strconv.ParseBool(v)
	return sampled, errors.Wrapf(err, "b3 sampled flag %q", v)
}
