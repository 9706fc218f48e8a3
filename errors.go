package minitrace

import (
	"fmt"
	"reflect"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// Protocol misuse. They reach the application only through EventMisuse, with
// the exception of Tracer.Close, which also returns ErrTracerClosed. Compare
// with errors.Cause.
var (
	ErrSpanFinished      = errors.New("span already finished")
	ErrScopeClosed       = errors.New("scope already closed")
	ErrScopeOutOfOrder   = errors.New("scope closed while an inner scope is still open")
	ErrTracerClosed      = errors.New("tracer is closed")
	ErrInvalidBaggageKey = errors.New("invalid baggage key")
)

/*
	Error Types
*/

type ErrDroppedSpans interface {
	DroppedSpans() int
	error
}

type droppedSpansError struct {
	droppedSpans int
}

func newErrDroppedSpans(droppedSpans int) ErrDroppedSpans {
	return &droppedSpansError{droppedSpans: droppedSpans}
}

func (err *droppedSpansError) DroppedSpans() int {
	return err.droppedSpans
}

func (err *droppedSpansError) Error() string {
	return fmt.Sprintf("reporter dropped %d spans", err.droppedSpans)
}

// newErrNotMiniTracer returns a typecasting error
func newErrNotMiniTracer(tracer opentracing.Tracer) error {
	return fmt.Errorf("not a minitrace Tracer type: %v", reflect.TypeOf(tracer))
}

// misuse attaches the operation that triggered a protocol violation.
func misuse(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
