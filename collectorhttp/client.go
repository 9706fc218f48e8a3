// Package collectorhttp sends finished spans to a collector over HTTP, as
// protobuf or as JSON.
package collectorhttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gogo/protobuf/jsonpb"
	"github.com/gogo/protobuf/proto"
	"github.com/google/uuid"
	"github.com/lightstep/lightstep-tracer-common/golang/gogo/collectorpb"
	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/internal/protoconv"
	"github.com/lightstep/minitrace-go/internal/randx"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/net/http2"
)

const (
	DefaultURL     = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second

	ReportPath = "/api/v2/reports"

	protoContentType = "application/octet-stream"
	jsonContentType  = "application/json"

	maxResponseBytes = 1 << 20
)

var (
	acceptHeader         = http.CanonicalHeaderKey("Accept")
	contentTypeHeader    = http.CanonicalHeaderKey("Content-Type")
	accessTokenHeader    = http.CanonicalHeaderKey("Lightstep-Access-Token")
	idempotencyKeyHeader = http.CanonicalHeaderKey("Idempotency-Key")
)

type Option func(*config)

// WithURL sets the collector base URL; ReportPath is appended.
func WithURL(url string) Option {
	return func(c *config) {
		c.url = url
	}
}

// WithHTTP2 sends reports over an HTTP/2 transport. Requires an https URL.
func WithHTTP2() Option {
	return func(c *config) {
		c.http2 = true
	}
}

// WithJSON encodes reports as JSON instead of binary protobuf.
func WithJSON() Option {
	return func(c *config) {
		c.json = true
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

func WithAccessToken(token string) Option {
	return func(c *config) {
		c.accessToken = token
	}
}

func WithReporterTags(tags map[string]string) Option {
	return func(c *config) {
		for k, v := range tags {
			c.reporterTags[k] = v
		}
	}
}

// WithHTTPClient replaces the client built from the other options.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

type config struct {
	url          string
	http2        bool
	json         bool
	timeout      time.Duration
	accessToken  string
	reporterTags map[string]string
	client       *http.Client
}

// Client implements minitrace.Client.
type Client struct {
	url         string
	json        bool
	accessToken string
	client      *http.Client
	converter   *protoconv.Converter
	disabled    atomic.Bool
}

var _ minitrace.Client = &Client{}

func NewClient(opts ...Option) *Client {
	c := &config{
		url:          DefaultURL,
		timeout:      DefaultTimeout,
		reporterTags: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}

	client := c.client
	if client == nil {
		client = &http.Client{Timeout: c.timeout}
		if c.http2 {
			client.Transport = &http2.Transport{}
		}
	}

	return &Client{
		url:         strings.TrimSuffix(c.url, "/") + ReportPath,
		json:        c.json,
		accessToken: c.accessToken,
		client:      client,
		converter:   protoconv.NewConverter(randx.GenSeededGUID(), c.reporterTags, c.accessToken),
	}
}

func (c *Client) Report(ctx context.Context, spans []minitrace.RawSpan) error {
	if c.disabled.Load() {
		return nil
	}

	protoRequest, _ := c.converter.ToReportRequest(spans)
	httpRequest, err := c.toRequest(ctx, protoRequest)
	if err != nil {
		return err
	}

	httpResponse, err := c.client.Do(httpRequest)
	if err != nil {
		return errors.Wrap(err, "report to collector")
	}
	defer httpResponse.Body.Close()

	resp, err := c.toResponse(httpResponse)
	if err != nil {
		return err
	}

	if protoconv.Disables(resp) && !c.disabled.Swap(true) {
		minitrace.EmitEvent(minitrace.NewEventCollectorDisabled())
	}
	return protoconv.ResponseError(resp)
}

func (c *Client) toRequest(ctx context.Context, protoRequest *collectorpb.ReportRequest) (*http.Request, error) {
	var (
		body        []byte
		contentType string
		err         error
	)
	if c.json {
		var buf bytes.Buffer
		err = (&jsonpb.Marshaler{}).Marshal(&buf, protoRequest)
		body, contentType = buf.Bytes(), jsonContentType
	} else {
		body, err = proto.Marshal(protoRequest)
		contentType = protoContentType
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode report")
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set(contentTypeHeader, contentType)
	req.Header.Set(acceptHeader, contentType)
	req.Header.Set(accessTokenHeader, c.accessToken)
	req.Header.Set(idempotencyKeyHeader, uuid.New().String())
	return req, nil
}

func (c *Client) toResponse(response *http.Response) (*collectorpb.ReportResponse, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read collector response")
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, errors.Errorf("collector responded %s", response.Status)
	}

	resp := &collectorpb.ReportResponse{}
	if len(body) == 0 {
		return resp, nil
	}
	if c.json {
		err = jsonpb.Unmarshal(bytes.NewReader(body), resp)
	} else {
		err = proto.Unmarshal(body, resp)
	}
	return resp, errors.Wrap(err, "decode collector response")
}

// Close releases idle connections.
func (c *Client) Close(context.Context) error {
	c.client.CloseIdleConnections()
	return nil
}
