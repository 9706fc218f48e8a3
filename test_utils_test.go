package minitrace_test

import (
	"context"
	"sync"

	"github.com/lightstep/minitrace-go"
	. "github.com/onsi/gomega"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

const eventBufferSize = 100

func closeTestTracer(tracer opentracing.Tracer) {
	complete := make(chan struct{})
	go func() {
		minitrace.Close(context.Background(), tracer)
		close(complete)
	}()
	Eventually(complete).Should(BeClosed())
}

func startNSpans(n int, tracer opentracing.Tracer) {
	for i := 0; i < n; i++ {
		tracer.StartSpan("span").Finish()
	}
}

// drainEvents returns everything buffered in events without blocking.
func drainEvents(events <-chan minitrace.Event) []minitrace.Event {
	var out []minitrace.Event
	for {
		select {
		case e := <-events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func misuseCauses(events []minitrace.Event) []error {
	var causes []error
	for _, e := range events {
		if m, ok := e.(minitrace.EventMisuse); ok {
			causes = append(causes, errors.Cause(m.Err()))
		}
	}
	return causes
}

// fakeClient records batches and fails while err is set.
type fakeClient struct {
	lock    sync.Mutex
	batches [][]minitrace.RawSpan
	err     error
	closed  int
}

func (c *fakeClient) Report(_ context.Context, spans []minitrace.RawSpan) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return c.err
	}
	c.batches = append(c.batches, spans)
	return nil
}

func (c *fakeClient) Close(context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed++
	return nil
}

func (c *fakeClient) setErr(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.err = err
}

func (c *fakeClient) reported() []minitrace.RawSpan {
	c.lock.Lock()
	defer c.lock.Unlock()
	var spans []minitrace.RawSpan
	for _, b := range c.batches {
		spans = append(spans, b...)
	}
	return spans
}

func (c *fakeClient) batchCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.batches)
}

type panickingReporter struct{}

func (panickingReporter) Report(minitrace.RawSpan) {
	panic("reporter exploded")
}

type panickingSampler struct{}

func (panickingSampler) ShouldSample(minitrace.TraceID, string) bool {
	panic(errors.New("sampler exploded"))
}

type panickingClient struct{}

func (panickingClient) Report(context.Context, []minitrace.RawSpan) error {
	panic("client exploded")
}

func (panickingClient) Close(context.Context) error {
	panic("client exploded")
}
