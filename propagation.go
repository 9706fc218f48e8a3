package minitrace

import (
	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/multierr"
)

// Propagator moves a SpanContext in and out of one carrier format.
type Propagator interface {
	Inject(opentracing.SpanContext, interface{}) error
	Extract(interface{}) (opentracing.SpanContext, error)
}

// PropagatorStack injects with every propagator it holds and extracts with
// the first one that finds a context. When none does, extraction fails with
// the first error other than ErrSpanContextNotFound, if any.
type PropagatorStack struct {
	propagators []Propagator
}

// PushPropagator appends p. Extraction tries propagators in push order.
func (stack *PropagatorStack) PushPropagator(p Propagator) {
	stack.propagators = append(stack.propagators, p)
}

func (stack PropagatorStack) Inject(
	spanContext opentracing.SpanContext,
	opaqueCarrier interface{},
) error {
	if len(stack.propagators) == 0 {
		return opentracing.ErrUnsupportedFormat
	}

	var err error
	for _, propagator := range stack.propagators {
		err = multierr.Append(err, propagator.Inject(spanContext, opaqueCarrier))
	}
	return err
}

func (stack PropagatorStack) Extract(
	opaqueCarrier interface{},
) (opentracing.SpanContext, error) {
	if len(stack.propagators) == 0 {
		return nil, opentracing.ErrUnsupportedFormat
	}

	// A corrupted context outranks a missing one.
	var corrupted error
	for _, propagator := range stack.propagators {
		sc, err := propagator.Extract(opaqueCarrier)
		if err == nil {
			return sc, nil
		}
		if corrupted == nil && err != opentracing.ErrSpanContextNotFound {
			corrupted = err
		}
	}
	if corrupted != nil {
		return nil, corrupted
	}
	return nil, opentracing.ErrSpanContextNotFound
}

// injectable returns the context to write into a carrier: a valid minitrace
// context whose baggage keys are normalized.
func injectable(spanContext opentracing.SpanContext) (SpanContext, bool) {
	sc, ok := asSpanContext(spanContext)
	if !ok || !sc.IsValid() || !canonicalBaggage(sc.Baggage) {
		return SpanContext{}, false
	}
	return sc, true
}

// asSpanContext accepts both SpanContext and *SpanContext.
func asSpanContext(spanContext opentracing.SpanContext) (SpanContext, bool) {
	switch sc := spanContext.(type) {
	case SpanContext:
		return sc, true
	case *SpanContext:
		if sc == nil {
			return SpanContext{}, false
		}
		return *sc, true
	}
	return SpanContext{}, false
}
