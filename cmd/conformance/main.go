// Command conformance reads carriers as JSON from stdin, extracts a span
// context from each, injects it again and writes the result to stdout. A
// test harness compares input and output.
//
//	{"text_map": {"trace-id": "...", ...}, "http_headers": {...}, "binary": "<base64>"}
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/lightstep/minitrace-go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Carriers struct {
	TextMap     map[string]string `json:"text_map,omitempty"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
	Binary      string            `json:"binary,omitempty"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	minitrace.SetGlobalEventHandler(minitrace.NewOnEventLogger(logger))
	if err := run(minitrace.NewTracer(), os.Stdin, os.Stdout); err != nil {
		logger.Fatal("conformance run failed", zap.Error(err))
	}
}

func run(tracer minitrace.Tracer, in io.Reader, out io.Writer) error {
	var carriers Carriers
	if err := json.NewDecoder(in).Decode(&carriers); err != nil {
		return errors.Wrap(err, "could not read carriers from stdin")
	}

	output := Carriers{}

	if carriers.TextMap != nil {
		sc, err := tracer.Extract(opentracing.TextMap, opentracing.TextMapCarrier(carriers.TextMap))
		if err != nil {
			return errors.Wrap(err, "could not extract text map context")
		}
		output.TextMap = map[string]string{}
		if err := tracer.Inject(sc, opentracing.TextMap, opentracing.TextMapCarrier(output.TextMap)); err != nil {
			return errors.Wrap(err, "could not inject text map context")
		}
	}

	if carriers.HTTPHeaders != nil {
		in := http.Header{}
		for k, v := range carriers.HTTPHeaders {
			in.Set(k, v)
		}
		sc, err := tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(in))
		if err != nil {
			return errors.Wrap(err, "could not extract http headers context")
		}
		headers := http.Header{}
		if err := tracer.Inject(sc, opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers)); err != nil {
			return errors.Wrap(err, "could not inject http headers context")
		}
		output.HTTPHeaders = map[string]string{}
		for k := range headers {
			output.HTTPHeaders[k] = headers.Get(k)
		}
	}

	if carriers.Binary != "" {
		b, err := base64.StdEncoding.DecodeString(carriers.Binary)
		if err != nil {
			return errors.Wrap(err, "could not decode base64 binary carrier")
		}
		sc, err := tracer.Extract(opentracing.Binary, bytes.NewReader(b))
		if err != nil {
			return errors.Wrap(err, "could not extract binary context")
		}
		binOut := bytes.NewBuffer(nil)
		if err := tracer.Inject(sc, opentracing.Binary, binOut); err != nil {
			return errors.Wrap(err, "could not inject binary context")
		}
		output.Binary = base64.StdEncoding.EncodeToString(binOut.Bytes())
	}

	return errors.Wrap(json.NewEncoder(out).Encode(output), "could not marshal json to stdout")
}
