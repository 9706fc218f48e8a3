// Package metrics reports the health of the tracing pipeline itself (spans
// sent and dropped, flush failures, misuse) to a metrics ingest endpoint.
package metrics

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/gogo/protobuf/types"
	"github.com/google/uuid"
	"github.com/lightstep/lightstep-tracer-common/golang/gogo/collectorpb"
	"github.com/lightstep/lightstep-tracer-common/golang/gogo/metricspb"
	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/internal/timex"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const (
	DefaultReporterAddress = "http://localhost:9876"
	DefaultReporterTimeout = time.Second * 5
)

var (
	acceptHeader      = http.CanonicalHeaderKey("Accept")
	contentTypeHeader = http.CanonicalHeaderKey("Content-Type")
	accessTokenHeader = http.CanonicalHeaderKey("Lightstep-Access-Token")
)

const (
	reporterPath = "/metrics"

	protoContentType = "application/octet-stream"
)

// Metric names.
const (
	SpansSent         = "minitrace.spans.sent"
	SpansDropped      = "minitrace.spans.dropped"
	FlushErrors       = "minitrace.flush.errors"
	MisuseEvents      = "minitrace.misuse"
	MalformedCarriers = "minitrace.carriers.malformed"
	UnfinishedSpans   = "minitrace.spans.unfinished"
	EncodingErrors    = "minitrace.encoding.errors"
)

// Counters is a snapshot of everything counted so far.
type Counters map[string]uint64

type counters struct {
	spansSent         atomic.Uint64
	spansDropped      atomic.Uint64
	flushErrors       atomic.Uint64
	misuseEvents      atomic.Uint64
	malformedCarriers atomic.Uint64
	unfinishedSpans   atomic.Uint64
	encodingErrors    atomic.Uint64
}

func (c *counters) snapshot() Counters {
	return Counters{
		SpansSent:         c.spansSent.Load(),
		SpansDropped:      c.spansDropped.Load(),
		FlushErrors:       c.flushErrors.Load(),
		MisuseEvents:      c.misuseEvents.Load(),
		MalformedCarriers: c.malformedCarriers.Load(),
		UnfinishedSpans:   c.unfinishedSpans.Load(),
		EncodingErrors:    c.encodingErrors.Load(),
	}
}

type Reporter struct {
	client      *http.Client
	reporter    *collectorpb.Reporter
	address     string
	timeout     time.Duration
	accessToken string
	clock       timex.Clock

	counters counters
	stored   Counters
	start    time.Time
}

func NewReporter(opts ...ReporterOption) *Reporter {
	c := newConfig(opts...)

	reporter := &collectorpb.Reporter{ReporterId: c.tracerID}
	for k, v := range c.attributes {
		reporter.Tags = append(reporter.Tags, &collectorpb.KeyValue{
			Key:   k,
			Value: &collectorpb.KeyValue_StringValue{StringValue: v},
		})
	}

	return &Reporter{
		client:      &http.Client{},
		reporter:    reporter,
		address:     c.address + reporterPath,
		timeout:     c.timeout,
		accessToken: c.accessToken,
		clock:       c.clock,
		stored:      Counters{},
		start:       c.clock.Now(),
	}
}

// OnEvent counts event and passes it on to next, which may be nil. Install
// the result with minitrace.SetGlobalEventHandler.
func (r *Reporter) OnEvent(next func(minitrace.Event)) func(minitrace.Event) {
	return func(event minitrace.Event) {
		r.Observe(event)
		if next != nil {
			next(event)
		}
	}
}

func (r *Reporter) Observe(event minitrace.Event) {
	switch event := event.(type) {
	case minitrace.EventStatusReport:
		r.counters.spansSent.Add(uint64(event.SentSpans()))
		r.counters.spansDropped.Add(uint64(event.DroppedSpans()))
	case minitrace.EventFlushError:
		r.counters.flushErrors.Inc()
	case minitrace.EventMisuse:
		r.counters.misuseEvents.Inc()
	case minitrace.EventMalformedCarrier:
		r.counters.malformedCarriers.Inc()
	case minitrace.EventUnfinishedSpans:
		r.counters.unfinishedSpans.Add(uint64(event.Count()))
	case minitrace.EventEncodingErrors:
		r.counters.encodingErrors.Add(uint64(event.Count()))
	}
}

// Snapshot returns the totals counted so far.
func (r *Reporter) Snapshot() Counters {
	return r.counters.snapshot()
}

func (r *Reporter) prepareRequest() *metricspb.IngestRequest {
	return &metricspb.IngestRequest{
		IdempotencyKey: uuid.New().String(),
		Reporter:       r.reporter,
	}
}

func addUint(key string, value uint64, start time.Time, duration time.Duration) *metricspb.MetricPoint {
	return &metricspb.MetricPoint{
		Kind:       metricspb.MetricKind_COUNTER,
		MetricName: key,
		Value: &metricspb.MetricPoint_Uint64Value{
			Uint64Value: value,
		},
		Start: &types.Timestamp{
			Seconds: start.Unix(),
			Nanos:   int32(start.Nanosecond()),
		},
		Duration: types.DurationProto(duration),
	}
}

// Measure sends the counter deltas since the previous successful Measure.
func (r *Reporter) Measure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.clock.Now()
	current := r.counters.snapshot()

	pb := r.prepareRequest()
	for _, name := range []string{SpansSent, SpansDropped, FlushErrors, MisuseEvents, MalformedCarriers, UnfinishedSpans, EncodingErrors} {
		pb.Points = append(pb.Points, addUint(name, current[name]-r.stored[name], r.start, now.Sub(r.start)))
	}

	b, err := proto.Marshal(pb)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, r.address, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req = req.WithContext(ctx)

	req.Header.Set(contentTypeHeader, protoContentType)
	req.Header.Set(acceptHeader, protoContentType)
	req.Header.Set(accessTokenHeader, r.accessToken)

	res, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send metrics")
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Errorf("metrics endpoint responded %s", res.Status)
	}

	r.stored = current
	r.start = now
	return nil
}

// Run calls Measure every interval until ctx is done. Failures are emitted
// as flush errors.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := r.Measure(ctx); err != nil {
				minitrace.EmitEvent(&measureError{err: err})
			}
		case <-ctx.Done():
			return
		}
	}
}

type ReporterOption func(*config)

func WithReporterTracerID(tracerID uint64) ReporterOption {
	return func(c *config) {
		c.tracerID = tracerID
	}
}

func WithReporterAttributes(attributes map[string]string) ReporterOption {
	return func(c *config) {
		for k, v := range attributes {
			c.attributes[k] = v
		}
	}
}

// WithReporterAddress sets the base URL of the metrics endpoint
func WithReporterAddress(address string) ReporterOption {
	return func(c *config) {
		c.address = address
	}
}

func WithReporterTimeout(timeout time.Duration) ReporterOption {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithReporterAccessToken(accessToken string) ReporterOption {
	return func(c *config) {
		c.accessToken = accessToken
	}
}

func WithReporterClock(clock timex.Clock) ReporterOption {
	return func(c *config) {
		c.clock = clock
	}
}

type config struct {
	tracerID    uint64
	attributes  map[string]string
	address     string
	timeout     time.Duration
	accessToken string
	clock       timex.Clock
}

func newConfig(opts ...ReporterOption) config {
	var c config

	defaultOpts := []ReporterOption{
		func(c *config) { c.attributes = make(map[string]string) },
		WithReporterAddress(DefaultReporterAddress),
		WithReporterTimeout(DefaultReporterTimeout),
		WithReporterClock(timex.NewClock()),
	}

	for _, opt := range append(defaultOpts, opts...) {
		opt(&c)
	}

	return c
}

// measureError is the event emitted by Run when a Measure fails.
type measureError struct {
	err error
}

func (*measureError) Event()           {}
func (*measureError) EventFlushError() {}

func (e *measureError) State() minitrace.EventFlushErrorState {
	return minitrace.FlushErrorTransport
}

func (e *measureError) String() string { return e.err.Error() }
func (e *measureError) Error() string  { return e.err.Error() }
func (e *measureError) Err() error     { return e.err }
