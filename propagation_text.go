package minitrace

import (
	"net/url"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

const (
	fieldNameTraceID = "trace-id"
	fieldNameSpanID  = "span-id"
	fieldNameSampled = "sampled"

	baggagePrefix = "baggage-"
)

var (
	// TextMapPropagator writes the identity keys and baggage verbatim.
	TextMapPropagator Propagator = textPropagator{
		fields: defaultFields,
	}

	// HTTPHeadersPropagator is TextMapPropagator with percent-encoded
	// baggage values.
	HTTPHeadersPropagator Propagator = textPropagator{
		fields:        defaultFields,
		encodeBaggage: true,
	}

	defaultFields = textFields{
		traceIDKey:   fieldNameTraceID,
		spanIDKey:    fieldNameSpanID,
		sampledKey:   fieldNameSampled,
		formatTrace:  TraceID.String,
		parseTrace:   ParseTraceID,
		parseSpan:    ParseSpanID,
		parseSampled: parseStrictSampled,
	}
)

// textFields names the keys and value codecs of one text header scheme.
type textFields struct {
	traceIDKey      string
	spanIDKey       string
	parentSpanIDKey string
	sampledKey      string

	formatTrace  func(TraceID) string
	parseTrace   func(string) (TraceID, error)
	parseSpan    func(string) (uint64, error)
	parseSampled func(string) (bool, error)
}

type textPropagator struct {
	fields        textFields
	encodeBaggage bool
}

func (p textPropagator) Inject(
	spanContext opentracing.SpanContext,
	opaqueCarrier interface{},
) error {
	sc, ok := injectable(spanContext)
	if !ok {
		return opentracing.ErrInvalidSpanContext
	}
	carrier, ok := opaqueCarrier.(opentracing.TextMapWriter)
	if !ok {
		return opentracing.ErrInvalidCarrier
	}

	carrier.Set(p.fields.traceIDKey, p.fields.formatTrace(sc.TraceID))
	carrier.Set(p.fields.spanIDKey, FormatSpanID(sc.SpanID))
	if p.fields.parentSpanIDKey != "" && sc.ParentSpanID != 0 {
		carrier.Set(p.fields.parentSpanIDKey, FormatSpanID(sc.ParentSpanID))
	}
	if sc.Sampled {
		carrier.Set(p.fields.sampledKey, "1")
	} else {
		carrier.Set(p.fields.sampledKey, "0")
	}

	for k, v := range sc.Baggage {
		if p.encodeBaggage {
			v = url.QueryEscape(v)
		}
		carrier.Set(baggagePrefix+k, v)
	}
	return nil
}

func (p textPropagator) Extract(
	opaqueCarrier interface{},
) (opentracing.SpanContext, error) {
	carrier, ok := opaqueCarrier.(opentracing.TextMapReader)
	if !ok {
		return nil, opentracing.ErrInvalidCarrier
	}

	var (
		sc            SpanContext
		found         int
		traceIDFound  bool
		spanIDFound   bool
		sampledFound  bool
		decodedBaggage = map[string]string{}
	)
	corrupted := func(cause error, key string) error {
		return errors.Wrapf(opentracing.ErrSpanContextCorrupted, "%s: %v", key, cause)
	}

	err := carrier.ForeachKey(func(k, v string) error {
		var err error
		switch key := strings.ToLower(k); {
		case key == p.fields.traceIDKey:
			if sc.TraceID, err = p.fields.parseTrace(v); err != nil {
				return corrupted(err, key)
			}
			traceIDFound = true
			found++
		case key == p.fields.spanIDKey:
			if sc.SpanID, err = p.fields.parseSpan(v); err != nil {
				return corrupted(err, key)
			}
			spanIDFound = true
			found++
		case key == p.fields.sampledKey:
			if sc.Sampled, err = p.fields.parseSampled(v); err != nil {
				return corrupted(err, key)
			}
			sampledFound = true
			found++
		case p.fields.parentSpanIDKey != "" && key == p.fields.parentSpanIDKey:
			// The parent of the sender is not part of the receiver's context.
		case strings.HasPrefix(key, baggagePrefix):
			name, ok := normalizeBaggageKey(strings.TrimPrefix(key, baggagePrefix))
			if !ok {
				return nil
			}
			if p.encodeBaggage {
				if v, err = url.QueryUnescape(v); err != nil {
					return corrupted(err, key)
				}
			}
			decodedBaggage[name] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case found == 0:
		return nil, opentracing.ErrSpanContextNotFound
	case !traceIDFound:
		return nil, corrupted(errors.New("missing"), p.fields.traceIDKey)
	case !spanIDFound:
		return nil, corrupted(errors.New("missing"), p.fields.spanIDKey)
	case !sampledFound:
		return nil, corrupted(errors.New("missing"), p.fields.sampledKey)
	case !sc.TraceID.IsValid():
		return nil, corrupted(errors.New("zero"), p.fields.traceIDKey)
	case sc.SpanID == 0:
		return nil, corrupted(errors.New("zero"), p.fields.spanIDKey)
	}
	if len(decodedBaggage) > 0 {
		sc.Baggage = decodedBaggage
	}
	return sc, nil
}

func parseStrictSampled(v string) (bool, error) {
	switch v {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, errors.Errorf("sampled flag %q: want \"1\" or \"0\"", v)
}
