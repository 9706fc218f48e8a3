package minitrace_test

import (
	"github.com/lightstep/minitrace-go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("SpanContext", func() {
	It("formats ids at fixed width", func() {
		Expect(minitrace.TraceID{Low: 1}.String()).To(Equal("00000000000000000000000000000001"))
		Expect(minitrace.FormatSpanID(0xabc)).To(Equal("0000000000000abc"))
	})

	It("parses what it formats", func() {
		id := minitrace.TraceID{High: 0xdeadbeef, Low: 0xcafe}
		parsed, err := minitrace.ParseTraceID(id.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(id))

		spanID, err := minitrace.ParseSpanID(minitrace.FormatSpanID(42))
		Expect(err).NotTo(HaveOccurred())
		Expect(spanID).To(Equal(uint64(42)))
	})

	It("rejects upper-case hex", func() {
		_, err := minitrace.ParseSpanID("00000000000000AB")
		Expect(err).To(HaveOccurred())
		_, err = minitrace.ParseTraceID("0000000000000000000000000000000A")
		Expect(err).To(HaveOccurred())
	})

	It("rejects wrong widths and non-hex", func() {
		for _, bad := range []string{"", "1", "0000000000000000000000000000000", "000000000000000000000000000000000", "0000000000000000000000000000000g"} {
			_, err := minitrace.ParseTraceID(bad)
			Expect(err).To(HaveOccurred(), bad)
		}
		for _, bad := range []string{"abc", "000000000000000g", "-000000000000001"} {
			_, err := minitrace.ParseSpanID(bad)
			Expect(err).To(HaveOccurred(), bad)
		}
	})

	It("copies baggage on write", func() {
		sc := minitrace.SpanContext{TraceID: minitrace.TraceID{Low: 1}, SpanID: 2, Baggage: map[string]string{"a": "1"}}
		next := sc.WithBaggageItem("b", "2")
		Expect(sc.Baggage).To(Equal(map[string]string{"a": "1"}))
		Expect(next.Baggage).To(Equal(map[string]string{"a": "1", "b": "2"}))
		Expect(next.TraceID).To(Equal(sc.TraceID))
		Expect(next.SpanID).To(Equal(sc.SpanID))
	})

	It("lower-cases baggage keys and ignores keys that cannot travel", func() {
		sc := minitrace.SpanContext{TraceID: minitrace.TraceID{Low: 1}, SpanID: 2}
		next := sc.WithBaggageItem("UserID", "42")
		Expect(next.Baggage).To(Equal(map[string]string{"userid": "42"}))
		Expect(next.BaggageItem("USERID")).To(Equal("42"))

		Expect(next.WithBaggageItem("user id", "x").Baggage).To(Equal(next.Baggage))
		Expect(next.WithBaggageItem("", "x").Baggage).To(Equal(next.Baggage))
	})

	It("visits baggage until told to stop", func() {
		sc := minitrace.SpanContext{Baggage: map[string]string{"a": "1", "b": "2", "c": "3"}}
		visited := 0
		sc.ForeachBaggageItem(func(k, v string) bool {
			visited++
			return false
		})
		Expect(visited).To(Equal(1))
	})

	It("is valid only with both ids", func() {
		Expect(minitrace.SpanContext{}.IsValid()).To(BeFalse())
		Expect(minitrace.SpanContext{TraceID: minitrace.TraceID{High: 1}}.IsValid()).To(BeFalse())
		Expect(minitrace.SpanContext{SpanID: 1}.IsValid()).To(BeFalse())
		Expect(minitrace.SpanContext{TraceID: minitrace.TraceID{High: 1}, SpanID: 1}.IsValid()).To(BeTrue())
	})
})
