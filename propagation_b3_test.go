package minitrace_test

import (
	"github.com/lightstep/minitrace-go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

var _ = Describe("B3Propagator", func() {
	var carrier opentracing.TextMapCarrier

	BeforeEach(func() {
		carrier = opentracing.TextMapCarrier{}
	})

	It("writes the x-b3 headers", func() {
		sc := knownContext
		sc.ParentSpanID = 0x1
		Expect(minitrace.B3Propagator.Inject(sc, carrier)).To(Succeed())
		Expect(carrier).To(Equal(opentracing.TextMapCarrier{
			"x-b3-traceid":      "0123456789abcdeffedcba9876543210",
			"x-b3-spanid":       "58c6ffee509f6836",
			"x-b3-parentspanid": "0000000000000001",
			"x-b3-sampled":      "1",
			"baggage-checked":   "baggage",
		}))
	})

	It("omits the parent of a root context", func() {
		Expect(minitrace.B3Propagator.Inject(knownContext, carrier)).To(Succeed())
		Expect(carrier).NotTo(HaveKey("x-b3-parentspanid"))
	})

	It("round-trips a context without carrying the parent", func() {
		sc := knownContext
		sc.ParentSpanID = 0x1
		Expect(minitrace.B3Propagator.Inject(sc, carrier)).To(Succeed())

		extracted, err := minitrace.B3Propagator.Extract(carrier)
		Expect(err).NotTo(HaveOccurred())
		Expect(extracted).To(Equal(knownContext))
	})

	It("accepts 64-bit trace ids and short span ids", func() {
		carrier = opentracing.TextMapCarrier{
			"X-B3-TraceId": "fedcba9876543210",
			"X-B3-SpanId":  "abc",
			"X-B3-Sampled": "true",
		}
		extracted, err := minitrace.B3Propagator.Extract(carrier)
		Expect(err).NotTo(HaveOccurred())
		Expect(extracted).To(Equal(minitrace.SpanContext{
			TraceID: minitrace.TraceID{Low: 0xfedcba9876543210},
			SpanID:  0xabc,
			Sampled: true,
		}))
	})

	It("treats the debug flag as sampled", func() {
		carrier = opentracing.TextMapCarrier{
			"x-b3-traceid": "fedcba9876543210",
			"x-b3-spanid":  "0000000000000abc",
			"x-b3-sampled": "d",
		}
		extracted, err := minitrace.B3Propagator.Extract(carrier)
		Expect(err).NotTo(HaveOccurred())
		Expect(extracted.(minitrace.SpanContext).Sampled).To(BeTrue())
	})

	It("reports bad values as corrupted", func() {
		for _, bad := range []opentracing.TextMapCarrier{
			{"x-b3-traceid": "fedcba98", "x-b3-spanid": "abc", "x-b3-sampled": "1"},
			{"x-b3-traceid": "fedcba9876543210", "x-b3-spanid": "11112222333344445", "x-b3-sampled": "1"},
			{"x-b3-traceid": "fedcba9876543210", "x-b3-spanid": "abc", "x-b3-sampled": "maybe"},
			{"x-b3-traceid": "fedcba9876543210", "x-b3-spanid": "abc"},
		} {
			_, err := minitrace.B3Propagator.Extract(bad)
			Expect(errors.Cause(err)).To(Equal(opentracing.ErrSpanContextCorrupted), "%v", bad)
		}
	})

	It("does not read the default keys", func() {
		Expect(minitrace.TextMapPropagator.Inject(knownContext, carrier)).To(Succeed())
		_, err := minitrace.B3Propagator.Extract(carrier)
		Expect(err).To(Equal(opentracing.ErrSpanContextNotFound))
	})
})
