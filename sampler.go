package minitrace

import "math"

// Sampler decides whether a new trace is recorded. It is consulted once per
// trace, when the root span starts; descendants inherit the decision.
type Sampler interface {
	ShouldSample(traceID TraceID, operationName string) bool
}

// ConstSampler samples every trace or none.
type ConstSampler bool

func (s ConstSampler) ShouldSample(TraceID, string) bool {
	return bool(s)
}

// knuthFactor spreads sequential ids over the whole uint64 range.
const knuthFactor = uint64(1111111111111111111)

type probabilisticSampler struct {
	rate      float64
	threshold uint64
}

// NewProbabilisticSampler samples roughly rate (0..1) of all traces. The
// decision depends only on the trace id, so every process that sees the
// same root makes the same choice.
func NewProbabilisticSampler(rate float64) Sampler {
	switch {
	case rate <= 0 || math.IsNaN(rate):
		return &probabilisticSampler{rate: 0}
	case rate >= 1:
		return &probabilisticSampler{rate: 1, threshold: math.MaxUint64}
	}
	return &probabilisticSampler{rate: rate, threshold: uint64(rate * math.MaxUint64)}
}

func (s *probabilisticSampler) ShouldSample(traceID TraceID, _ string) bool {
	if s.rate == 0 {
		return false
	}
	return traceID.Low*knuthFactor <= s.threshold
}

// safeSample isolates the tracer from a panicking sampler. A failed decision
// means "not sampled".
func safeSample(s Sampler, traceID TraceID, operationName string) (sampled bool) {
	defer func() {
		if r := recover(); r != nil {
			EmitEvent(newEventCollaboratorFailure("sampler", r))
			sampled = false
		}
	}()
	return s.ShouldSample(traceID, operationName)
}
