// Package protoconv translates finished spans into the collector's protobuf
// model.
package protoconv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gogo/protobuf/types"
	"github.com/lightstep/lightstep-tracer-common/golang/gogo/collectorpb"
	"github.com/lightstep/minitrace-go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
)

// Converter holds the reporter identity stamped on every request.
type Converter struct {
	reporter    *collectorpb.Reporter
	accessToken string
}

func NewConverter(reporterID uint64, reporterTags map[string]string, accessToken string) *Converter {
	reporter := &collectorpb.Reporter{ReporterId: reporterID}
	for k, v := range reporterTags {
		reporter.Tags = append(reporter.Tags, &collectorpb.KeyValue{
			Key:   k,
			Value: &collectorpb.KeyValue_StringValue{StringValue: v},
		})
	}
	return &Converter{reporter: reporter, accessToken: accessToken}
}

// ToReportRequest builds one request carrying spans. Fields that fail to
// encode are replaced by an error string, counted in the second result and
// announced with EventEncodingErrors.
func (c *Converter) ToReportRequest(spans []minitrace.RawSpan) (*collectorpb.ReportRequest, int) {
	req := &collectorpb.ReportRequest{
		Reporter: c.reporter,
		Auth:     &collectorpb.Auth{AccessToken: c.accessToken},
		Spans:    make([]*collectorpb.Span, 0, len(spans)),
	}
	var encodingErrors int
	for _, raw := range spans {
		span, n := ToSpan(raw)
		req.Spans = append(req.Spans, span)
		encodingErrors += n
	}
	if encodingErrors > 0 {
		minitrace.EmitEvent(minitrace.NewEventEncodingErrors(encodingErrors))
	}
	return req, encodingErrors
}

func ToSpan(raw minitrace.RawSpan) (*collectorpb.Span, int) {
	span := &collectorpb.Span{
		SpanContext:    toSpanContext(raw.Context),
		OperationName:  raw.Operation,
		StartTimestamp: ToTimestamp(raw.Start),
		DurationMicros: toDurationMicros(raw.Duration),
		Tags:           ToTags(raw.Tags),
	}
	if high := raw.Context.TraceID.High; high != 0 {
		span.Tags = append(span.Tags, &collectorpb.KeyValue{
			Key:   TraceIDHighTagKey,
			Value: &collectorpb.KeyValue_StringValue{StringValue: fmt.Sprintf("%016x", high)},
		})
	}
	for _, ref := range raw.References {
		span.References = append(span.References, toReference(ref))
	}
	if len(span.References) == 0 && raw.ParentSpanID != 0 {
		span.References = append(span.References, &collectorpb.Reference{
			Relationship: collectorpb.Reference_CHILD_OF,
			SpanContext: &collectorpb.SpanContext{
				TraceId: raw.Context.TraceID.Low,
				SpanId:  raw.ParentSpanID,
			},
		})
	}

	var encodingErrors int
	for _, lr := range raw.Logs {
		l, n := ToLog(lr)
		span.Logs = append(span.Logs, l)
		encodingErrors += n
	}
	return span, encodingErrors
}

// The collector model keeps 64 bits of trace id; the high half travels as a
// tag so that no information is lost.
const TraceIDHighTagKey = "minitrace.trace_id_high"

func toSpanContext(sc minitrace.SpanContext) *collectorpb.SpanContext {
	return &collectorpb.SpanContext{
		TraceId: sc.TraceID.Low,
		SpanId:  sc.SpanID,
		Baggage: sc.Baggage,
	}
}

func toReference(ref minitrace.Reference) *collectorpb.Reference {
	relationship := collectorpb.Reference_CHILD_OF
	if ref.Type == opentracing.FollowsFromRef {
		relationship = collectorpb.Reference_FOLLOWS_FROM
	}
	return &collectorpb.Reference{
		Relationship: relationship,
		SpanContext:  toSpanContext(ref.Context),
	}
}

func toDurationMicros(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

// ToTimestamp never fails; times outside the protobuf range become nil.
func ToTimestamp(t time.Time) *types.Timestamp {
	ts, err := types.TimestampProto(t)
	if err != nil {
		return nil
	}
	return ts
}

// ToTags converts tags in key order.
func ToTags(tags opentracing.Tags) []*collectorpb.KeyValue {
	kvs := make([]*collectorpb.KeyValue, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		kvs = append(kvs, ToKeyValue(k, tags[k]))
	}
	return kvs
}

// ToKeyValue picks the closest collector value type for v.
func ToKeyValue(key string, v interface{}) *collectorpb.KeyValue {
	kv := &collectorpb.KeyValue{Key: key}
	switch v := v.(type) {
	case string:
		kv.Value = &collectorpb.KeyValue_StringValue{StringValue: v}
	case bool:
		kv.Value = &collectorpb.KeyValue_BoolValue{BoolValue: v}
	case int:
		kv.Value = &collectorpb.KeyValue_IntValue{IntValue: int64(v)}
	case int8:
		kv.Value = &collectorpb.KeyValue_IntValue{IntValue: int64(v)}
	case int16:
		kv.Value = &collectorpb.KeyValue_IntValue{IntValue: int64(v)}
	case int32:
		kv.Value = &collectorpb.KeyValue_IntValue{IntValue: int64(v)}
	case int64:
		kv.Value = &collectorpb.KeyValue_IntValue{IntValue: v}
	case float32:
		kv.Value = &collectorpb.KeyValue_DoubleValue{DoubleValue: float64(v)}
	case float64:
		kv.Value = &collectorpb.KeyValue_DoubleValue{DoubleValue: v}
	case fmt.Stringer:
		kv.Value = &collectorpb.KeyValue_StringValue{StringValue: v.String()}
	default:
		// Unsigned integers and everything else travel as strings.
		kv.Value = &collectorpb.KeyValue_StringValue{StringValue: fmt.Sprint(v)}
	}
	return kv
}

// ToLog encodes one log record. It returns the number of fields that could
// not be encoded.
func ToLog(lr opentracing.LogRecord) (*collectorpb.Log, int) {
	enc := &fieldEncoder{}
	for _, f := range lr.Fields {
		f.Marshal(enc)
	}
	return &collectorpb.Log{
		Timestamp: ToTimestamp(lr.Timestamp),
		Fields:    enc.fields,
	}, enc.errors
}

// fieldEncoder implements log.Encoder.
type fieldEncoder struct {
	fields []*collectorpb.KeyValue
	errors int
}

var _ log.Encoder = &fieldEncoder{}

func (e *fieldEncoder) emit(kv *collectorpb.KeyValue) {
	e.fields = append(e.fields, kv)
}

func (e *fieldEncoder) EmitString(key, value string) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_StringValue{StringValue: value}})
}

func (e *fieldEncoder) EmitBool(key string, value bool) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_BoolValue{BoolValue: value}})
}

func (e *fieldEncoder) EmitInt(key string, value int) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_IntValue{IntValue: int64(value)}})
}

func (e *fieldEncoder) EmitInt32(key string, value int32) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_IntValue{IntValue: int64(value)}})
}

func (e *fieldEncoder) EmitInt64(key string, value int64) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_IntValue{IntValue: value}})
}

// Unsigned values may not fit an int64 and are sent as strings.
func (e *fieldEncoder) EmitUint32(key string, value uint32) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_StringValue{StringValue: fmt.Sprint(value)}})
}

func (e *fieldEncoder) EmitUint64(key string, value uint64) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_StringValue{StringValue: fmt.Sprint(value)}})
}

func (e *fieldEncoder) EmitFloat32(key string, value float32) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_DoubleValue{DoubleValue: float64(value)}})
}

func (e *fieldEncoder) EmitFloat64(key string, value float64) {
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_DoubleValue{DoubleValue: value}})
}

func (e *fieldEncoder) EmitObject(key string, value interface{}) {
	b, err := json.Marshal(value)
	if err != nil {
		e.errors++
		e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_StringValue{StringValue: "json encoding error: " + err.Error()}})
		return
	}
	e.emit(&collectorpb.KeyValue{Key: key, Value: &collectorpb.KeyValue_JsonValue{JsonValue: string(b)}})
}

func (e *fieldEncoder) EmitLazyLogger(value log.LazyLogger) {
	value(e)
}

func sortedKeys(tags opentracing.Tags) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Disables reports whether the collector asked the reporter to stop sending.
func Disables(resp *collectorpb.ReportResponse) bool {
	for _, command := range resp.GetCommands() {
		if command.GetDisable() {
			return true
		}
	}
	return false
}

// ResponseError joins the errors a collector returned for an accepted
// request, or returns nil.
func ResponseError(resp *collectorpb.ReportResponse) error {
	if errs := resp.GetErrors(); len(errs) > 0 {
		return errors.Errorf("collector rejected report: %s", strings.Join(errs, "; "))
	}
	return nil
}
