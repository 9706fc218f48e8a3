package minitrace

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Events are emitted by the tracer as a reporting mechanism. They are
// handled by installing an OnEvent callback with SetGlobalEventHandler.
// Events may be cast to specific event types in order access additional
// information.
//
// NOTE: To ensure that events can be accurately identified, each event type contains
// a sentinel method matching the name of the type. This method is a no-op, it is only used
// for type coercion.
type Event interface {
	Event()
	String() string
}

// The ErrorEvent type can be used to filter events for errors. The `Err` method
// returns the underlying error.
type ErrorEvent interface {
	Event
	error
	Err() error
}

// EventMalformedCarrier occurs when a carrier holds tracing keys that cannot
// be parsed. The trace continues as if no context had been found.
type EventMalformedCarrier interface {
	ErrorEvent
	EventMalformedCarrier()
	Format() interface{}
}

type eventMalformedCarrier struct {
	format interface{}
	err    error
}

func newEventMalformedCarrier(format interface{}, err error) *eventMalformedCarrier {
	return &eventMalformedCarrier{format: format, err: err}
}

func (*eventMalformedCarrier) Event()                 {}
func (*eventMalformedCarrier) EventMalformedCarrier() {}

func (e *eventMalformedCarrier) Format() interface{} {
	return e.format
}

func (e *eventMalformedCarrier) String() string {
	return fmt.Sprintf("malformed %v carrier: %s", e.format, e.err)
}

func (e *eventMalformedCarrier) Error() string {
	return e.String()
}

func (e *eventMalformedCarrier) Err() error {
	return e.err
}

// EventMisuse occurs when instrumentation breaks the span or scope protocol:
// finishing twice, closing scopes out of order, using a closed tracer. Use
// errors.Cause on Err to compare against the Err* sentinels.
type EventMisuse interface {
	ErrorEvent
	EventMisuse()
}

type eventMisuse struct {
	err error
}

func newEventMisuse(err error) *eventMisuse {
	return &eventMisuse{err: err}
}

func (*eventMisuse) Event()       {}
func (*eventMisuse) EventMisuse() {}

func (e *eventMisuse) String() string {
	return e.err.Error()
}

func (e *eventMisuse) Error() string {
	return e.err.Error()
}

func (e *eventMisuse) Err() error {
	return e.err
}

// EventCollaboratorFailure occurs when a Sampler or Reporter panics. The
// panic is contained to the call that caused it.
type EventCollaboratorFailure interface {
	ErrorEvent
	EventCollaboratorFailure()
	Collaborator() string
}

type eventCollaboratorFailure struct {
	collaborator string
	err          error
}

func newEventCollaboratorFailure(collaborator string, recovered interface{}) *eventCollaboratorFailure {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}
	return &eventCollaboratorFailure{
		collaborator: collaborator,
		err:          errors.Wrapf(err, "%s panicked", collaborator),
	}
}

func (*eventCollaboratorFailure) Event()                    {}
func (*eventCollaboratorFailure) EventCollaboratorFailure() {}

func (e *eventCollaboratorFailure) Collaborator() string {
	return e.collaborator
}

func (e *eventCollaboratorFailure) String() string {
	return e.err.Error()
}

func (e *eventCollaboratorFailure) Error() string {
	return e.err.Error()
}

func (e *eventCollaboratorFailure) Err() error {
	return e.err
}

// EventFlushErrorState lists the possible causes for a flush to fail.
type EventFlushErrorState string

const (
	FlushErrorReporterClosed EventFlushErrorState = "flush failed, the reporter is closed."
	FlushErrorTransport      EventFlushErrorState = "flush failed, could not send report to Collector"
	FlushErrorReport         EventFlushErrorState = "flush failed, report contained errors"
)

var flushErrorReporterClosed = errors.New(string(FlushErrorReporterClosed))

// EventFlushError occurs when a flush fails to send. Call the `State` method to
// determine the type of error.
type EventFlushError interface {
	ErrorEvent
	EventFlushError()
	State() EventFlushErrorState
}

type eventFlushError struct {
	err   error
	state EventFlushErrorState
}

func newEventFlushError(err error, state EventFlushErrorState) *eventFlushError {
	return &eventFlushError{err: err, state: state}
}

func (*eventFlushError) Event()           {}
func (*eventFlushError) EventFlushError() {}

func (e *eventFlushError) State() EventFlushErrorState {
	return e.state
}

func (e *eventFlushError) String() string {
	return e.err.Error()
}

func (e *eventFlushError) Error() string {
	return e.err.Error()
}

func (e *eventFlushError) Err() error {
	return e.err
}

// EventStatusReport occurs on every successful flush. It contains all metrics
// collected since the previous successful flush.
type EventStatusReport interface {
	Event
	EventStatusReport()
	StartTime() time.Time
	FinishTime() time.Time
	Duration() time.Duration
	SentSpans() int
	DroppedSpans() int
}

type eventStatusReport struct {
	startTime    time.Time
	finishTime   time.Time
	sentSpans    int
	droppedSpans int
}

func newEventStatusReport(startTime, finishTime time.Time, sentSpans, droppedSpans int) *eventStatusReport {
	return &eventStatusReport{startTime: startTime, finishTime: finishTime, sentSpans: sentSpans, droppedSpans: droppedSpans}
}

func (*eventStatusReport) Event() {}

func (*eventStatusReport) EventStatusReport() {}

func (s *eventStatusReport) StartTime() time.Time {
	return s.startTime
}

func (s *eventStatusReport) FinishTime() time.Time {
	return s.finishTime
}

func (s *eventStatusReport) Duration() time.Duration {
	return s.finishTime.Sub(s.startTime)
}

func (s *eventStatusReport) SentSpans() int {
	return s.sentSpans
}

func (s *eventStatusReport) DroppedSpans() int {
	return s.droppedSpans
}

func (s *eventStatusReport) String() string {
	return fmt.Sprint("STATUS REPORT start: ", s.startTime, ", end: ", s.finishTime, ", sent spans: ", s.sentSpans, ", dropped spans: ", s.droppedSpans)
}

// EventUnfinishedSpans occurs when a tracer is closed while spans it started
// were never finished. Those spans are never reported.
type EventUnfinishedSpans interface {
	Event
	EventUnfinishedSpans()
	Count() int
	Operations() []string
}

type eventUnfinishedSpans struct {
	operations []string
}

func newEventUnfinishedSpans(operations []string) *eventUnfinishedSpans {
	return &eventUnfinishedSpans{operations: operations}
}

func (*eventUnfinishedSpans) Event()                {}
func (*eventUnfinishedSpans) EventUnfinishedSpans() {}

func (e *eventUnfinishedSpans) Count() int {
	return len(e.operations)
}

func (e *eventUnfinishedSpans) Operations() []string {
	return e.operations
}

func (e *eventUnfinishedSpans) String() string {
	return fmt.Sprintf("%d spans were never finished: %v", len(e.operations), e.operations)
}

// EventCollectorDisabled occurs when the collector answers a report with a
// disable command.
type EventCollectorDisabled interface {
	Event
	EventCollectorDisabled()
}

type eventCollectorDisabled struct{}

// NewEventCollectorDisabled is used by Client implementations.
func NewEventCollectorDisabled() EventCollectorDisabled {
	return eventCollectorDisabled{}
}

func (eventCollectorDisabled) Event()                  {}
func (eventCollectorDisabled) EventCollectorDisabled() {}

func (eventCollectorDisabled) String() string {
	return "collector requested that reporting be disabled"
}

// EventEncodingErrors occurs when span tags or log fields could not be encoded
// for the collector. Each such field is sent with an error message as value.
type EventEncodingErrors interface {
	Event
	EventEncodingErrors()
	Count() int
}

type eventEncodingErrors struct {
	count int
}

// NewEventEncodingErrors is used by Client implementations.
func NewEventEncodingErrors(count int) EventEncodingErrors {
	return &eventEncodingErrors{count: count}
}

func (*eventEncodingErrors) Event()               {}
func (*eventEncodingErrors) EventEncodingErrors() {}

func (e *eventEncodingErrors) Count() int {
	return e.count
}

func (e *eventEncodingErrors) String() string {
	return fmt.Sprintf("%d span fields could not be encoded", e.count)
}

// EventUnsupportedTracer occurs when a tracer being passed to a helper function
// fails to typecast as a minitrace tracer.
type EventUnsupportedTracer interface {
	ErrorEvent
	EventUnsupportedTracer()
	UnsupportedTracer() opentracing.Tracer
}

type eventUnsupportedTracer struct {
	unsupportedTracer opentracing.Tracer
	err               error
}

func newEventUnsupportedTracer(tracer opentracing.Tracer) EventUnsupportedTracer {
	return &eventUnsupportedTracer{
		unsupportedTracer: tracer,
		err:               newErrNotMiniTracer(tracer),
	}
}

func (e *eventUnsupportedTracer) Event()                  {}
func (e *eventUnsupportedTracer) EventUnsupportedTracer() {}

func (e *eventUnsupportedTracer) UnsupportedTracer() opentracing.Tracer {
	return e.unsupportedTracer
}

func (e *eventUnsupportedTracer) String() string {
	return e.err.Error()
}

func (e *eventUnsupportedTracer) Error() string {
	return e.err.Error()
}

func (e *eventUnsupportedTracer) Err() error {
	return e.err
}

/*
	OnEvent Handlers
*/

var (
	eventHandlerLock sync.RWMutex
	eventHandler     func(Event)
)

// SetGlobalEventHandler sets the handler for all events emitted by tracers,
// reporters and clients in this process. Passing nil restores the default,
// which logs through a zap production logger.
func SetGlobalEventHandler(handler func(Event)) {
	eventHandlerLock.Lock()
	defer eventHandlerLock.Unlock()
	eventHandler = handler
}

// EmitEvent hands event to the global handler. Exported for Client
// implementations living outside this package.
func EmitEvent(event Event) {
	eventHandlerLock.RLock()
	handler := eventHandler
	eventHandlerLock.RUnlock()

	if handler == nil {
		handler = defaultEventHandler()
	}
	handler(event)
}

var (
	defaultHandler     func(Event)
	defaultHandlerOnce sync.Once
)

func defaultEventHandler() func(Event) {
	defaultHandlerOnce.Do(func() {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		defaultHandler = NewOnEventLogger(logger.Named("minitrace"))
	})
	return defaultHandler
}

// NewOnEventLogger logs events to logger. Error events are logged at error
// level, unfinished spans and encoding errors at warn level, everything else
// at info.
func NewOnEventLogger(logger *zap.Logger) func(Event) {
	return func(event Event) {
		name := zap.String("event", reflect.TypeOf(event).String())
		switch event := event.(type) {
		case ErrorEvent:
			logger.Error("tracer error", name, zap.Error(event.Err()))
		case EventUnfinishedSpans:
			logger.Warn("tracer closed with unfinished spans", name, zap.Int("count", event.Count()), zap.Strings("operations", event.Operations()))
		case EventEncodingErrors:
			logger.Warn("span fields could not be encoded", name, zap.Int("count", event.Count()))
		default:
			logger.Info("tracer event", name, zap.Stringer("detail", event))
		}
	}
}

// NewOnEventLogOneError only logs the first error
func NewOnEventLogOneError(logger *zap.Logger) func(Event) {
	l := logOneError{logger: logger}
	return l.OnEvent
}

type logOneError struct {
	sync.Once
	logger *zap.Logger
}

func (l *logOneError) OnEvent(event Event) {
	switch event := event.(type) {
	case ErrorEvent:
		l.Once.Do(func() {
			l.logger.Error("tracer error; further errors are suppressed", zap.Error(event.Err()))
		})
	}
}

// NewOnEventChannel returns an OnEvent callback handler, and a channel that
// produces the events. When the channel buffer is full, subsequent events will
// be dropped. A buffer size of less than one is incorrect, and will be adjusted
// to a buffer size of one.
func NewOnEventChannel(buffer int) (func(Event), <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}

	eventChan := make(chan Event, buffer)

	handler := func(event Event) {
		select {
		case eventChan <- event:
		default:
		}
	}

	return handler, eventChan
}
