package minitrace_test

import (
	"context"
	"time"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/internal/timex/testtimex"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func rawSpans(n int) []minitrace.RawSpan {
	spans := make([]minitrace.RawSpan, n)
	for i := range spans {
		spans[i] = minitrace.RawSpan{Operation: "op", Context: minitrace.SpanContext{TraceID: minitrace.TraceID{Low: 1}, SpanID: uint64(i + 1)}}
	}
	return spans
}

var _ = Describe("BufferedReporter", func() {
	var (
		client   *fakeClient
		clock    *testtimex.Clock
		reporter *minitrace.BufferedReporter
		events   <-chan minitrace.Event
		maxSpans int
	)

	BeforeEach(func() {
		var handler func(minitrace.Event)
		handler, events = minitrace.NewOnEventChannel(eventBufferSize)
		minitrace.SetGlobalEventHandler(handler)

		client = &fakeClient{}
		clock = testtimex.NewClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		maxSpans = 10
	})

	JustBeforeEach(func() {
		reporter = minitrace.NewBufferedReporter(client,
			minitrace.WithReporterClock(clock),
			minitrace.WithReportInterval(time.Second),
			minitrace.WithMaxBufferedSpans(maxSpans),
		)
	})

	AfterEach(func() {
		reporter.Close(context.Background())
		minitrace.SetGlobalEventHandler(nil)
	})

	It("sends spans on every tick", func() {
		for _, s := range rawSpans(3) {
			reporter.Report(s)
		}
		Expect(client.batchCount()).To(BeZero())

		clock.Advance(time.Second)
		Eventually(client.reported).Should(HaveLen(3))
	})

	It("emits a status report after a successful flush", func() {
		for _, s := range rawSpans(2) {
			reporter.Report(s)
		}
		Expect(reporter.Flush(context.Background())).To(Succeed())

		evts := drainEvents(events)
		Expect(evts).To(HaveLen(1))
		status, ok := evts[0].(minitrace.EventStatusReport)
		Expect(ok).To(BeTrue())
		Expect(status.SentSpans()).To(Equal(2))
		Expect(status.DroppedSpans()).To(BeZero())
	})

	It("does not call the client with nothing to send", func() {
		Expect(reporter.Flush(context.Background())).To(Succeed())
		Expect(client.batchCount()).To(BeZero())
	})

	Context("when the buffer is full", func() {
		BeforeEach(func() {
			maxSpans = 2
		})

		It("drops and counts the overflow", func() {
			for _, s := range rawSpans(5) {
				reporter.Report(s)
			}
			Expect(reporter.Flush(context.Background())).To(Succeed())
			Expect(client.reported()).To(HaveLen(2))

			status := drainEvents(events)[0].(minitrace.EventStatusReport)
			Expect(status.DroppedSpans()).To(Equal(3))
		})
	})

	Context("when the client fails", func() {
		BeforeEach(func() {
			maxSpans = 3
			client.setErr(errors.New("collector down"))
		})

		It("keeps the spans for the next flush", func() {
			for _, s := range rawSpans(2) {
				reporter.Report(s)
			}
			Expect(reporter.Flush(context.Background())).To(MatchError("collector down"))

			flushErr, ok := drainEvents(events)[0].(minitrace.EventFlushError)
			Expect(ok).To(BeTrue())
			Expect(flushErr.State()).To(Equal(minitrace.FlushErrorTransport))

			client.setErr(nil)
			Expect(reporter.Flush(context.Background())).To(Succeed())
			Expect(client.reported()).To(HaveLen(2))
		})

		It("drops the oldest spans beyond the bound", func() {
			for _, s := range rawSpans(2) {
				reporter.Report(s)
			}
			Expect(reporter.Flush(context.Background())).NotTo(Succeed())
			for _, s := range rawSpans(2) {
				reporter.Report(s)
			}
			Expect(reporter.Flush(context.Background())).NotTo(Succeed())

			client.setErr(nil)
			drainEvents(events)
			Expect(reporter.Flush(context.Background())).To(Succeed())
			Expect(client.reported()).To(HaveLen(3))

			status := drainEvents(events)[0].(minitrace.EventStatusReport)
			Expect(status.DroppedSpans()).To(Equal(1))
		})

		It("counts what is lost on close", func() {
			for _, s := range rawSpans(2) {
				reporter.Report(s)
			}
			err := reporter.Close(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("reporter dropped 2 spans"))
			Expect(client.closed).To(Equal(1))
		})
	})

	Describe("Close", func() {
		It("sends what is left and closes the client", func() {
			for _, s := range rawSpans(4) {
				reporter.Report(s)
			}
			Expect(reporter.Close(context.Background())).To(Succeed())
			Expect(client.reported()).To(HaveLen(4))
			Expect(client.closed).To(Equal(1))
		})

		It("refuses a second close", func() {
			Expect(reporter.Close(context.Background())).To(Succeed())
			Expect(reporter.Close(context.Background())).To(HaveOccurred())
			Expect(client.closed).To(Equal(1))
		})

		It("drops spans reported after close", func() {
			Expect(reporter.Close(context.Background())).To(Succeed())
			reporter.Report(rawSpans(1)[0])
			Expect(client.reported()).To(BeEmpty())
		})
	})
})

var _ = Describe("BufferedReporter with a panicking client", func() {
	var (
		reporter *minitrace.BufferedReporter
		events   <-chan minitrace.Event
	)

	BeforeEach(func() {
		var handler func(minitrace.Event)
		handler, events = minitrace.NewOnEventChannel(eventBufferSize)
		minitrace.SetGlobalEventHandler(handler)

		clock := testtimex.NewClock(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		reporter = minitrace.NewBufferedReporter(panickingClient{},
			minitrace.WithReporterClock(clock),
			minitrace.WithReportInterval(time.Hour),
		)
		for _, s := range rawSpans(2) {
			reporter.Report(s)
		}
	})

	AfterEach(func() {
		minitrace.SetGlobalEventHandler(nil)
	})

	clientFailures := func(evts []minitrace.Event) int {
		n := 0
		for _, e := range evts {
			if f, ok := e.(minitrace.EventCollaboratorFailure); ok && f.Collaborator() == "client" {
				n++
			}
		}
		return n
	}

	It("turns the panic into a failed flush and keeps the spans", func() {
		err := reporter.Flush(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("client exploded"))

		evts := drainEvents(events)
		Expect(clientFailures(evts)).To(Equal(1))
		var flushErrors int
		for _, e := range evts {
			if _, ok := e.(minitrace.EventFlushError); ok {
				flushErrors++
			}
		}
		Expect(flushErrors).To(Equal(1))

		err = reporter.Close(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("reporter dropped 2 spans"))
		Expect(clientFailures(drainEvents(events))).To(Equal(2))
	})

	It("survives a tracer flush", func() {
		tracer := minitrace.NewTracer(minitrace.WithReporter(reporter))
		Expect(tracer.Flush(context.Background())).NotTo(Succeed())
		Expect(tracer.Close(context.Background())).NotTo(Succeed())
	})
})
