package minitrace

import (
	"os"
	"path/filepath"

	"github.com/lightstep/minitrace-go/internal/timex"
	opentracing "github.com/opentracing/opentracing-go"
)

// ServiceNameKey is the tag every span of a tracer carries.
const ServiceNameKey = "service.name"

// Options is the effective configuration of a Tracer.
type Options struct {
	// Defaults to the base name of the running binary.
	ServiceName string

	// Consulted for root spans only. Defaults to ConstSampler(true).
	Sampler Sampler

	// Receives sampled spans once they finish. Defaults to NoopReporter.
	Reporter Reporter

	// Added to every span before its own tags.
	Tags opentracing.Tags

	// Keyed by OpenTracing format (opentracing.TextMap, opentracing.HTTPHeaders,
	// opentracing.Binary, or any custom value).
	Propagators map[interface{}]Propagator

	Clock timex.Clock
}

type Option func(*Options)

func WithServiceName(name string) Option {
	return func(o *Options) {
		o.ServiceName = name
	}
}

func WithSampler(sampler Sampler) Option {
	return func(o *Options) {
		o.Sampler = sampler
	}
}

func WithReporter(reporter Reporter) Option {
	return func(o *Options) {
		o.Reporter = reporter
	}
}

// WithTags adds tracer-wide tags. May be given several times.
func WithTags(tags opentracing.Tags) Option {
	return func(o *Options) {
		for k, v := range tags {
			o.Tags[k] = v
		}
	}
}

// WithPropagator registers p for format, replacing any builtin.
func WithPropagator(format interface{}, p Propagator) Option {
	return func(o *Options) {
		o.Propagators[format] = p
	}
}

func WithClock(clock timex.Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

func defaultOptions() *Options {
	return &Options{
		ServiceName: filepath.Base(os.Args[0]),
		Sampler:     ConstSampler(true),
		Reporter:    NoopReporter{},
		Tags:        opentracing.Tags{},
		Propagators: map[interface{}]Propagator{
			opentracing.TextMap:     TextMapPropagator,
			opentracing.HTTPHeaders: HTTPHeadersPropagator,
			opentracing.Binary:      BinaryPropagator,
		},
		Clock: timex.NewClock(),
	}
}
