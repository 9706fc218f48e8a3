package minitrace

import (
	"context"
	"sync"
	"time"

	"github.com/lightstep/minitrace-go/internal/timex"
	"go.uber.org/multierr"
)

// Client sends batches of finished spans to a collector.
type Client interface {
	Report(ctx context.Context, spans []RawSpan) error
	Close(ctx context.Context) error
}

const (
	DefaultReportInterval   = 3 * time.Second
	DefaultMaxBufferedSpans = 1000
	DefaultReportTimeout    = 30 * time.Second
)

type ReporterOption func(*reporterConfig)

type reporterConfig struct {
	interval time.Duration
	maxSpans int
	timeout  time.Duration
	clock    timex.Clock
}

// WithReportInterval sets how often buffered spans are sent.
func WithReportInterval(d time.Duration) ReporterOption {
	return func(c *reporterConfig) {
		c.interval = d
	}
}

// WithMaxBufferedSpans bounds the buffer; spans beyond it are dropped and
// counted.
func WithMaxBufferedSpans(n int) ReporterOption {
	return func(c *reporterConfig) {
		c.maxSpans = n
	}
}

// WithReportTimeout bounds each background report.
func WithReportTimeout(d time.Duration) ReporterOption {
	return func(c *reporterConfig) {
		c.timeout = d
	}
}

func WithReporterClock(clock timex.Clock) ReporterOption {
	return func(c *reporterConfig) {
		c.clock = clock
	}
}

// BufferedReporter queues finished spans and hands them to a Client in
// batches, from a background loop and on Flush.
type BufferedReporter struct {
	client Client
	config reporterConfig

	lock         sync.Mutex
	buffer       []RawSpan
	dropped      int
	reportStart  time.Time
	closed       bool
	flushLock    sync.Mutex
	closech      chan struct{}
	loopFinished chan struct{}
}

// NewBufferedReporter starts the background loop. Call Close to stop it.
func NewBufferedReporter(client Client, opts ...ReporterOption) *BufferedReporter {
	c := reporterConfig{
		interval: DefaultReportInterval,
		maxSpans: DefaultMaxBufferedSpans,
		timeout:  DefaultReportTimeout,
		clock:    timex.NewClock(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxSpans < 1 {
		c.maxSpans = 1
	}
	if c.interval <= 0 {
		c.interval = DefaultReportInterval
	}

	r := &BufferedReporter{
		client:       client,
		config:       c,
		reportStart:  c.clock.Now(),
		closech:      make(chan struct{}),
		loopFinished: make(chan struct{}),
	}
	// Must exist before we return; fake clocks may be advanced right away.
	go r.reportLoop(c.clock.NewTicker(c.interval))
	return r
}

// Report never blocks. When the buffer is full the span is dropped.
func (r *BufferedReporter) Report(span RawSpan) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		r.dropped++
		return
	}
	if len(r.buffer) >= r.config.maxSpans {
		r.dropped++
		return
	}
	r.buffer = append(r.buffer, span)
}

func (r *BufferedReporter) reportLoop(ticker timex.Ticker) {
	defer close(r.loopFinished)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), r.config.timeout)
			_ = r.Flush(ctx)
			cancel()
		case <-r.closech:
			return
		}
	}
}

// Flush sends everything buffered so far. On failure the spans go back into
// the buffer, up to its bound, and an EventFlushError is emitted.
func (r *BufferedReporter) Flush(ctx context.Context) error {
	r.flushLock.Lock()
	defer r.flushLock.Unlock()

	r.lock.Lock()
	spans := r.buffer
	dropped := r.dropped
	start := r.reportStart
	r.buffer = nil
	r.dropped = 0
	r.reportStart = r.config.clock.Now()
	r.lock.Unlock()

	if len(spans) == 0 && dropped == 0 {
		return nil
	}

	err := r.report(ctx, spans)
	if err != nil {
		r.restore(spans, dropped, start)
		EmitEvent(newEventFlushError(err, FlushErrorTransport))
		return err
	}

	EmitEvent(newEventStatusReport(start, r.config.clock.Now(), len(spans), dropped))
	return nil
}

// restore puts unsent spans in front of the ones reported meanwhile.
func (r *BufferedReporter) restore(spans []RawSpan, dropped int, start time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	merged := append(spans, r.buffer...)
	if over := len(merged) - r.config.maxSpans; over > 0 {
		dropped += over
		merged = merged[over:]
	}
	r.buffer = merged
	r.dropped += dropped
	r.reportStart = start
}

// Close stops the loop, sends what is left and closes the client. Spans that
// could not be sent are reported as ErrDroppedSpans.
func (r *BufferedReporter) Close(ctx context.Context) error {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		EmitEvent(newEventFlushError(flushErrorReporterClosed, FlushErrorReporterClosed))
		return flushErrorReporterClosed
	}
	r.closed = true
	r.lock.Unlock()

	close(r.closech)
	<-r.loopFinished

	err := r.Flush(ctx)
	if err != nil {
		r.lock.Lock()
		lost := len(r.buffer) + r.dropped
		r.buffer = nil
		r.lock.Unlock()
		err = multierr.Append(err, newErrDroppedSpans(lost))
	}
	return multierr.Append(err, r.closeClient(ctx))
}

// report and closeClient contain panics of the client to the call.
func (r *BufferedReporter) report(ctx context.Context, spans []RawSpan) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			failure := newEventCollaboratorFailure("client", rec)
			EmitEvent(failure)
			err = failure.Err()
		}
	}()
	return r.client.Report(ctx, spans)
}

func (r *BufferedReporter) closeClient(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			failure := newEventCollaboratorFailure("client", rec)
			EmitEvent(failure)
			err = failure.Err()
		}
	}()
	return r.client.Close(ctx)
}
