package main

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/minitracehttp"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const greetingBaggageKey = "greeting"

type helloClient struct {
	tracer       minitrace.Tracer
	client       *http.Client
	formatterURL string
	publisherURL string
}

func (c *helloClient) sayHello(ctx context.Context, helloTo, greeting string) error {
	scope, ctx := c.tracer.BuildSpan("say-hello").StartActive(ctx, true)
	defer scope.Close()

	span := scope.Span()
	span.SetTag("hello-to", helloTo)
	if greeting != "" {
		span.SetBaggageItem(greetingBaggageKey, greeting)
	}

	helloStr, err := c.formatString(ctx, helloTo)
	if err != nil {
		ext.Error.Set(span, true)
		return err
	}
	if err := c.printHello(ctx, helloStr); err != nil {
		ext.Error.Set(span, true)
		return err
	}
	return nil
}

func (c *helloClient) formatString(ctx context.Context, helloTo string) (string, error) {
	scope, ctx := c.tracer.BuildSpan("formatString").StartActive(ctx, true)
	defer scope.Close()

	v := url.Values{}
	v.Set("helloTo", helloTo)
	helloStr, err := c.get(ctx, c.formatterURL+"/format?"+v.Encode())
	if err != nil {
		return "", err
	}

	scope.Span().LogKV("event", "string-format", "value", helloStr)
	return helloStr, nil
}

func (c *helloClient) printHello(ctx context.Context, helloStr string) error {
	scope, ctx := c.tracer.BuildSpan("printHello").StartActive(ctx, true)
	defer scope.Close()

	v := url.Values{}
	v.Set("helloStr", helloStr)
	if _, err := c.get(ctx, c.publisherURL+"/publish?"+v.Encode()); err != nil {
		return err
	}

	scope.Span().LogKV("event", "println")
	return nil
}

// get sends a GET carrying the active span of ctx and returns the body.
func (c *helloClient) get(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	if err := minitracehttp.InjectRequest(ctx, c.tracer, req); err != nil {
		return "", errors.Wrap(err, "could not inject span context")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("GET %s: %s", target, resp.Status)
	}
	return strings.TrimSpace(string(body)), nil
}

func newHelloCommand(a *app) *cobra.Command {
	c := &helloClient{client: &http.Client{}}
	var greeting string

	cmd := &cobra.Command{
		Use:   "hello <name>",
		Short: "Say hello to name through the formatter and publisher services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.tracer = a.tracer
			err := c.sayHello(cmd.Context(), args[0], greeting)
			if err != nil {
				a.logger.Error("say-hello failed", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&greeting, "greeting", "", "greeting carried to the formatter as baggage")
	cmd.Flags().StringVar(&c.formatterURL, "formatter-url", "http://localhost:8081", "formatter service base URL")
	cmd.Flags().StringVar(&c.publisherURL, "publisher-url", "http://localhost:8082", "publisher service base URL")
	return cmd
}
