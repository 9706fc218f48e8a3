package minitrace_test

import (
	"context"

	"github.com/lightstep/minitrace-go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("Event handlers", func() {
	var (
		logs   *observer.ObservedLogs
		logger *zap.Logger
		tracer minitrace.Tracer
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		logger = zap.New(core)
		tracer = minitrace.NewTracer()
	})

	AfterEach(func() {
		minitrace.SetGlobalEventHandler(nil)
	})

	It("logs errors at error level", func() {
		minitrace.SetGlobalEventHandler(minitrace.NewOnEventLogger(logger))
		span := tracer.StartSpan("op")
		span.Finish()
		span.Finish()

		entries := logs.FilterMessage("tracer error").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Level).To(Equal(zapcore.ErrorLevel))
	})

	It("warns about unfinished spans", func() {
		minitrace.SetGlobalEventHandler(minitrace.NewOnEventLogger(logger))
		tracer.StartSpan("leaked")
		Expect(tracer.Close(context.Background())).To(Succeed())

		entries := logs.FilterMessage("tracer closed with unfinished spans").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Level).To(Equal(zapcore.WarnLevel))
		Expect(entries[0].ContextMap()).To(HaveKeyWithValue("count", int64(1)))
	})

	It("logs only the first error", func() {
		minitrace.SetGlobalEventHandler(minitrace.NewOnEventLogOneError(logger))
		span := tracer.StartSpan("op")
		span.Finish()
		span.Finish()
		span.Finish()

		Expect(logs.Len()).To(Equal(1))
	})

	It("drops events when the channel is full", func() {
		handler, events := minitrace.NewOnEventChannel(0)
		minitrace.SetGlobalEventHandler(handler)
		span := tracer.StartSpan("op")
		span.Finish()
		span.Finish()
		span.Finish()

		Expect(events).To(HaveLen(1))
	})

	It("logs span records", func() {
		reporting := minitrace.NewTracer(minitrace.WithReporter(minitrace.NewLoggingReporter(logger)))
		span := reporting.StartSpan("logged")
		span.SetBaggageItem("user", "alice")
		span.Finish()

		entries := logs.FilterMessage("span finished").All()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].ContextMap()).To(HaveKeyWithValue("operation", "logged"))
		Expect(reporting.Flush(context.Background())).To(Succeed())
	})
})
