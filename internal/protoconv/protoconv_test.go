package protoconv_test

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lightstep/lightstep-tracer-common/golang/gogo/collectorpb"
	"github.com/lightstep/minitrace-go"
	. "github.com/lightstep/minitrace-go/internal/protoconv"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
)

var _ = Describe("ToLog", func() {
	It("encodes empty keys correctly", func() {
		check(log.String("", ""))
		check(log.Int("", 0))
	})

	It("encodes string-value keys correctly", func() {
		check(log.String("string:Hello", "Hello"))
		check(log.String("string:", ""))
	})

	It("encodes bool-value keys correctly", func() {
		check(log.Bool("bool:false", false))
		check(log.Bool("bool:true", true))
	})

	It("encodes int-value keys correctly", func() {
		check(log.Int("int:1", 1))
		check(log.Int("int:-1", -1))
	})

	It("encodes int32-value keys correctly", func() {
		check(log.Int32("int:2147483647", math.MaxInt32))
		check(log.Int32("int:0", 0))
		check(log.Int32("int:-2147483648", math.MinInt32))
	})

	It("encodes int64-value keys correctly", func() {
		check(log.Int64("int:9223372036854775807", math.MaxInt64))
		check(log.Int64("int:-9223372036854775808", math.MinInt64))
	})

	It("encodes unsigned keys as strings", func() {
		check(log.Uint32("string:4294967295", math.MaxUint32))
		check(log.Uint64("string:18446744073709551615", math.MaxUint64))
	})

	It("encodes object-value keys as json", func() {
		check(log.Object("json:{}", struct{}{}))
		check(log.Object("json:{\"a\":1}", map[string]int{"a": 1}))
	})

	It("counts objects that cannot be encoded", func() {
		l, errs := ToLog(opentracing.LogRecord{Fields: []log.Field{log.Object("ch", make(chan int))}})
		Expect(errs).To(Equal(1))
		Expect(l.Fields).To(HaveLen(1))
		Expect(l.Fields[0].GetStringValue()).To(HavePrefix("json encoding error"))
	})

	It("expands lazy loggers", func() {
		l, errs := ToLog(opentracing.LogRecord{Fields: []log.Field{
			log.Lazy(func(fv log.Encoder) {
				fv.EmitString("a", "1")
				fv.EmitString("b", "2")
			}),
		}})
		Expect(errs).To(BeZero())
		Expect(l.Fields).To(HaveLen(2))
	})
})

var _ = Describe("ToSpan", func() {
	var (
		start = time.Date(2020, 1, 2, 3, 4, 5, 6000, time.UTC)
		raw   minitrace.RawSpan
	)

	BeforeEach(func() {
		raw = minitrace.RawSpan{
			Context: minitrace.SpanContext{
				TraceID: minitrace.TraceID{High: 1, Low: 2},
				SpanID:  3,
				Sampled: true,
				Baggage: map[string]string{"user": "alice"},
			},
			ParentSpanID: 4,
			Operation:    "format",
			Start:        start,
			Duration:     1500 * time.Microsecond,
			Tags:         opentracing.Tags{"b": true, "a": 7},
		}
	})

	It("copies identity, timing and baggage", func() {
		span, errs := ToSpan(raw)
		Expect(errs).To(BeZero())
		Expect(span.OperationName).To(Equal("format"))
		Expect(span.SpanContext.TraceId).To(Equal(uint64(2)))
		Expect(span.SpanContext.SpanId).To(Equal(uint64(3)))
		Expect(span.SpanContext.Baggage).To(Equal(map[string]string{"user": "alice"}))
		Expect(span.DurationMicros).To(Equal(uint64(1500)))
		Expect(span.StartTimestamp.Seconds).To(Equal(start.Unix()))
		Expect(span.StartTimestamp.Nanos).To(Equal(int32(6000)))
	})

	It("orders tags by key and keeps the high trace id bits", func() {
		span, _ := ToSpan(raw)
		Expect(span.Tags).To(HaveLen(3))
		Expect(span.Tags[0].Key).To(Equal("a"))
		Expect(span.Tags[0].GetIntValue()).To(Equal(int64(7)))
		Expect(span.Tags[1].Key).To(Equal("b"))
		Expect(span.Tags[1].GetBoolValue()).To(BeTrue())
		Expect(span.Tags[2].Key).To(Equal(TraceIDHighTagKey))
		Expect(span.Tags[2].GetStringValue()).To(Equal("0000000000000001"))
	})

	It("falls back to the parent id when there are no references", func() {
		span, _ := ToSpan(raw)
		Expect(span.References).To(HaveLen(1))
		Expect(span.References[0].Relationship).To(Equal(collectorpb.Reference_CHILD_OF))
		Expect(span.References[0].SpanContext.SpanId).To(Equal(uint64(4)))
	})

	It("maps follows-from references", func() {
		raw.References = []minitrace.Reference{{
			Type:    opentracing.FollowsFromRef,
			Context: minitrace.SpanContext{TraceID: minitrace.TraceID{Low: 2}, SpanID: 9},
		}}
		span, _ := ToSpan(raw)
		Expect(span.References).To(HaveLen(1))
		Expect(span.References[0].Relationship).To(Equal(collectorpb.Reference_FOLLOWS_FROM))
		Expect(span.References[0].SpanContext.SpanId).To(Equal(uint64(9)))
	})
})

var _ = Describe("Converter", func() {
	It("stamps the reporter and access token", func() {
		c := NewConverter(42, map[string]string{"service.name": "hello"}, "token")
		req, errs := c.ToReportRequest([]minitrace.RawSpan{{Operation: "a"}, {Operation: "b"}})
		Expect(errs).To(BeZero())
		Expect(req.Auth.AccessToken).To(Equal("token"))
		Expect(req.Reporter.ReporterId).To(Equal(uint64(42)))
		Expect(req.Reporter.Tags).To(HaveLen(1))
		Expect(req.Spans).To(HaveLen(2))
	})

	It("announces fields it could not encode", func() {
		handler, events := minitrace.NewOnEventChannel(10)
		minitrace.SetGlobalEventHandler(handler)
		defer minitrace.SetGlobalEventHandler(nil)

		raw := minitrace.RawSpan{
			Operation: "a",
			Logs: []opentracing.LogRecord{{
				Timestamp: time.Now(),
				Fields:    []log.Field{log.Object("unencodable", make(chan int)), log.String("fine", "ok")},
			}},
		}
		c := NewConverter(42, nil, "token")
		req, errs := c.ToReportRequest([]minitrace.RawSpan{raw})
		Expect(errs).To(Equal(1))
		Expect(req.Spans[0].Logs[0].Fields[0].GetStringValue()).To(HavePrefix("json encoding error"))

		var event minitrace.Event
		Expect(events).To(Receive(&event))
		encoding, ok := event.(minitrace.EventEncodingErrors)
		Expect(ok).To(BeTrue())
		Expect(encoding.Count()).To(Equal(1))
	})
})

func check(f log.Field) {
	out, errs := ToLog(opentracing.LogRecord{Fields: []log.Field{f}})
	Expect(errs).To(BeZero())
	Expect(out.Fields).To(HaveLen(1))

	comp := out.Fields[0]

	// Make sure empty keys don't crash.
	if len(f.Key()) == 0 {
		Expect(comp.Key).To(Equal(""))
		return
	}

	insplit := strings.SplitN(f.Key(), ":", 2)
	vtype := insplit[0]
	expect := insplit[1]

	var value interface{}
	switch vtype {
	case "string":
		value = comp.GetStringValue()
	case "int":
		value = comp.GetIntValue()
	case "bool":
		value = comp.GetBoolValue()
	case "json":
		value = comp.GetJsonValue()
	default:
		panic("Invalid type")
	}
	Expect(fmt.Sprint(value)).To(Equal(expect))
}

var _ = Describe("report responses", func() {
	It("finds a disable command among others", func() {
		resp := &collectorpb.ReportResponse{Commands: []*collectorpb.Command{{DevMode: true}, {Disable: true}}}
		Expect(Disables(resp)).To(BeTrue())
		Expect(Disables(&collectorpb.ReportResponse{})).To(BeFalse())
		Expect(Disables(nil)).To(BeFalse())
	})

	It("joins collector errors", func() {
		Expect(ResponseError(&collectorpb.ReportResponse{})).To(Succeed())
		err := ResponseError(&collectorpb.ReportResponse{Errors: []string{"bad span", "bad token"}})
		Expect(err).To(MatchError("collector rejected report: bad span; bad token"))
	})
})
