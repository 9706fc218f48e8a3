// Package collectorgrpc sends finished spans to a collector over gRPC.
package collectorgrpc

import (
	"context"
	"crypto/tls"

	"github.com/lightstep/lightstep-tracer-common/golang/gogo/collectorpb"
	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/internal/protoconv"
	"github.com/lightstep/minitrace-go/internal/randx"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	DefaultAddress = "localhost:8080"
)

type Option func(*config)

func WithAddress(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

func WithInsecure() Option {
	return func(c *config) {
		c.insecure = true
	}
}

func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = tlsConfig
	}
}

func WithAccessToken(token string) Option {
	return func(c *config) {
		c.accessToken = token
	}
}

// WithReporterTags describes this process to the collector, for example
// its service name.
func WithReporterTags(tags map[string]string) Option {
	return func(c *config) {
		for k, v := range tags {
			c.reporterTags[k] = v
		}
	}
}

// WithServiceClient replaces the dialed connection. For testing.
func WithServiceClient(satellite collectorpb.CollectorServiceClient) Option {
	return func(c *config) {
		c.satellite = satellite
	}
}

type config struct {
	addr         string
	insecure     bool
	tlsConfig    *tls.Config
	accessToken  string
	reporterTags map[string]string
	satellite    collectorpb.CollectorServiceClient
}

func defaultConfig() *config {
	return &config{
		addr:         DefaultAddress,
		tlsConfig:    &tls.Config{},
		reporterTags: map[string]string{},
	}
}

// Client implements minitrace.Client.
type Client struct {
	conn      *grpc.ClientConn
	satellite collectorpb.CollectorServiceClient
	converter *protoconv.Converter
	disabled  atomic.Bool
}

var _ minitrace.Client = &Client{}

// NewClient dials lazily; an unreachable collector shows up as report errors.
func NewClient(opts ...Option) (*Client, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	client := &Client{
		satellite: c.satellite,
		converter: protoconv.NewConverter(randx.GenSeededGUID(), c.reporterTags, c.accessToken),
	}
	if client.satellite != nil {
		return client, nil
	}

	var dialOptions []grpc.DialOption
	if c.insecure {
		dialOptions = append(dialOptions, grpc.WithInsecure())
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsConfig)))
	}
	conn, err := grpc.Dial(c.addr, dialOptions...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial collector %s", c.addr)
	}
	client.conn = conn
	client.satellite = collectorpb.NewCollectorServiceClient(conn)
	return client, nil
}

// Report sends spans in one request. Once the collector asked for reporting
// to stop, spans are discarded without a request.
func (c *Client) Report(ctx context.Context, spans []minitrace.RawSpan) error {
	if c.disabled.Load() {
		return nil
	}

	req, _ := c.converter.ToReportRequest(spans)
	resp, err := c.satellite.Report(ctx, req)
	if err != nil {
		return errors.Wrap(err, "report to collector")
	}

	if protoconv.Disables(resp) && !c.disabled.Swap(true) {
		minitrace.EmitEvent(minitrace.NewEventCollectorDisabled())
	}
	return protoconv.ResponseError(resp)
}

func (c *Client) Close(context.Context) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if err != grpc.ErrClientConnClosing {
		return err
	}
	return nil
}
