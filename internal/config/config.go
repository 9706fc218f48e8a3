// Package config loads tracer settings from a YAML file and MINITRACE_*
// environment variables and turns them into a running tracer.
package config

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/collectorgrpc"
	"github.com/lightstep/minitrace-go/collectorhttp"
	"github.com/lightstep/minitrace-go/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MINITRACE_"

// Transports.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
	TransportLog  = "log"
	TransportNone = "none"
)

// Sampler types.
const (
	SamplerConst         = "const"
	SamplerProbabilistic = "probabilistic"
)

type Sampler struct {
	Type string  `yaml:"type"`
	Rate float64 `yaml:"rate"`
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Tags        map[string]string `yaml:"tags"`
	Sampler     Sampler           `yaml:"sampler"`

	// One of grpc, http, log or none.
	Transport   string `yaml:"transport"`
	Address     string `yaml:"address"`
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`
	Insecure    bool   `yaml:"insecure"`
	JSON        bool   `yaml:"json"`
	HTTP2       bool   `yaml:"http2"`

	ReportInterval   time.Duration `yaml:"report_interval"`
	MaxBufferedSpans int           `yaml:"max_buffered_spans"`

	// Tracer health counters are posted here when set.
	MetricsAddress  string        `yaml:"metrics_address"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

func Default() Config {
	return Config{
		Sampler:          Sampler{Type: SamplerConst, Rate: 1},
		Transport:        TransportLog,
		Address:          collectorgrpc.DefaultAddress,
		URL:              collectorhttp.DefaultURL,
		ReportInterval:   minitrace.DefaultReportInterval,
		MaxBufferedSpans: minitrace.DefaultMaxBufferedSpans,
		MetricsInterval:  time.Minute,
	}
}

// Load reads path, if not empty, over the defaults and applies environment
// overrides last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "could not read config file")
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "could not parse %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			b, perr := strconv.ParseBool(v)
			err = multierr.Append(err, errors.Wrap(perr, envPrefix+name))
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			d, perr := time.ParseDuration(v)
			err = multierr.Append(err, errors.Wrap(perr, envPrefix+name))
			*dst = d
		}
	}

	str("SERVICE_NAME", &c.ServiceName)
	str("SAMPLER", &c.Sampler.Type)
	if v, ok := lookup(envPrefix + "SAMPLER_RATE"); ok {
		rate, perr := strconv.ParseFloat(v, 64)
		err = multierr.Append(err, errors.Wrap(perr, envPrefix+"SAMPLER_RATE"))
		c.Sampler.Rate = rate
	}
	str("TRANSPORT", &c.Transport)
	str("ADDRESS", &c.Address)
	str("URL", &c.URL)
	str("ACCESS_TOKEN", &c.AccessToken)
	boolean("INSECURE", &c.Insecure)
	boolean("JSON", &c.JSON)
	boolean("HTTP2", &c.HTTP2)
	duration("REPORT_INTERVAL", &c.ReportInterval)
	if v, ok := lookup(envPrefix + "MAX_BUFFERED_SPANS"); ok {
		n, perr := strconv.Atoi(v)
		err = multierr.Append(err, errors.Wrap(perr, envPrefix+"MAX_BUFFERED_SPANS"))
		c.MaxBufferedSpans = n
	}
	str("METRICS_ADDRESS", &c.MetricsAddress)
	duration("METRICS_INTERVAL", &c.MetricsInterval)
	return err
}

func (c Config) Validate() error {
	var err error
	switch c.Sampler.Type {
	case SamplerConst, SamplerProbabilistic:
	default:
		err = multierr.Append(err, errors.Errorf("unknown sampler %q", c.Sampler.Type))
	}
	if c.Sampler.Rate < 0 || c.Sampler.Rate > 1 {
		err = multierr.Append(err, errors.Errorf("sampler rate %v is outside [0, 1]", c.Sampler.Rate))
	}
	switch c.Transport {
	case TransportGRPC, TransportHTTP, TransportLog, TransportNone:
	default:
		err = multierr.Append(err, errors.Errorf("unknown transport %q", c.Transport))
	}
	if c.ReportInterval <= 0 {
		err = multierr.Append(err, errors.New("report interval must be positive"))
	}
	if c.MaxBufferedSpans < 1 {
		err = multierr.Append(err, errors.New("max buffered spans must be at least 1"))
	}
	if c.MetricsAddress != "" && c.MetricsInterval <= 0 {
		err = multierr.Append(err, errors.New("metrics interval must be positive"))
	}
	return err
}

func (c Config) sampler() minitrace.Sampler {
	if c.Sampler.Type == SamplerProbabilistic {
		return minitrace.NewProbabilisticSampler(c.Sampler.Rate)
	}
	return minitrace.ConstSampler(c.Sampler.Rate > 0)
}

func (c Config) reporterTags() map[string]string {
	tags := map[string]string{}
	for k, v := range c.Tags {
		tags[k] = v
	}
	if c.ServiceName != "" {
		tags[minitrace.ServiceNameKey] = c.ServiceName
	}
	return tags
}

// Reporter builds the span reporter for the configured transport.
func (c Config) Reporter(logger *zap.Logger) (minitrace.Reporter, error) {
	var client minitrace.Client
	switch c.Transport {
	case TransportNone:
		return minitrace.NoopReporter{}, nil
	case TransportLog:
		return minitrace.NewLoggingReporter(logger), nil
	case TransportGRPC:
		opts := []collectorgrpc.Option{
			collectorgrpc.WithAddress(c.Address),
			collectorgrpc.WithAccessToken(c.AccessToken),
			collectorgrpc.WithReporterTags(c.reporterTags()),
		}
		if c.Insecure {
			opts = append(opts, collectorgrpc.WithInsecure())
		}
		grpcClient, err := collectorgrpc.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		client = grpcClient
	case TransportHTTP:
		opts := []collectorhttp.Option{
			collectorhttp.WithURL(c.URL),
			collectorhttp.WithAccessToken(c.AccessToken),
			collectorhttp.WithReporterTags(c.reporterTags()),
		}
		if c.JSON {
			opts = append(opts, collectorhttp.WithJSON())
		}
		if c.HTTP2 {
			opts = append(opts, collectorhttp.WithHTTP2())
		}
		client = collectorhttp.NewClient(opts...)
	default:
		return nil, errors.Errorf("unknown transport %q", c.Transport)
	}
	return minitrace.NewBufferedReporter(client,
		minitrace.WithReportInterval(c.ReportInterval),
		minitrace.WithMaxBufferedSpans(c.MaxBufferedSpans),
	), nil
}

// TracerOptions translates everything except the reporter.
func (c Config) TracerOptions() []minitrace.Option {
	opts := []minitrace.Option{minitrace.WithSampler(c.sampler())}
	if c.ServiceName != "" {
		opts = append(opts, minitrace.WithServiceName(c.ServiceName))
	}
	if len(c.Tags) > 0 {
		tags := make(map[string]interface{}, len(c.Tags))
		for k, v := range c.Tags {
			tags[k] = v
		}
		opts = append(opts, minitrace.WithTags(tags))
	}
	return opts
}

// NewTracer builds a tracer and routes tracer events to logger. When a
// metrics address is configured the events are also counted and the
// counters posted until ctx is done.
func (c Config) NewTracer(ctx context.Context, logger *zap.Logger) (minitrace.Tracer, error) {
	reporter, err := c.Reporter(logger)
	if err != nil {
		return nil, err
	}

	onEvent := minitrace.NewOnEventLogger(logger)
	if c.MetricsAddress != "" {
		m := metrics.NewReporter(
			metrics.WithReporterAddress(c.MetricsAddress),
			metrics.WithReporterAccessToken(c.AccessToken),
			metrics.WithReporterAttributes(c.reporterTags()),
		)
		onEvent = m.OnEvent(onEvent)
		go m.Run(ctx, c.MetricsInterval)
	}
	minitrace.SetGlobalEventHandler(onEvent)

	return minitrace.NewTracer(append(c.TracerOptions(), minitrace.WithReporter(reporter))...), nil
}
