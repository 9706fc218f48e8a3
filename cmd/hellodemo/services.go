package main

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/minitracehttp"
	"github.com/spf13/cobra"
)

const defaultGreeting = "Hello"

func newFormatterRouter(tracer minitrace.Tracer) *mux.Router {
	r := mux.NewRouter()
	r.Use(minitracehttp.RouteMiddleware(tracer))
	r.HandleFunc("/format", func(w http.ResponseWriter, req *http.Request) {
		helloTo := req.URL.Query().Get("helloTo")
		if helloTo == "" {
			http.Error(w, "missing helloTo", http.StatusBadRequest)
			return
		}

		span := tracer.ActiveSpan(req.Context())
		greeting := span.BaggageItem(greetingBaggageKey)
		if greeting == "" {
			greeting = defaultGreeting
		}
		helloStr := fmt.Sprintf("%s, %s!", greeting, helloTo)
		span.LogKV("event", "string-format", "value", helloStr)

		fmt.Fprint(w, helloStr)
	}).Methods(http.MethodGet).Name("format")
	return r
}

// lockedWriter serialises writes from concurrent requests.
type lockedWriter struct {
	lock sync.Mutex
	w    io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.w.Write(p)
}

func newPublisherRouter(tracer minitrace.Tracer, out io.Writer) *mux.Router {
	out = &lockedWriter{w: out}
	r := mux.NewRouter()
	r.Use(minitracehttp.RouteMiddleware(tracer))
	r.HandleFunc("/publish", func(w http.ResponseWriter, req *http.Request) {
		helloStr := req.URL.Query().Get("helloStr")
		fmt.Fprintln(out, helloStr)
		tracer.ActiveSpan(req.Context()).LogKV("event", "println", "value", helloStr)

		fmt.Fprint(w, "published")
	}).Methods(http.MethodGet).Name("publish")
	return r
}

func newFormatterCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "formatter",
		Short: "Serve GET /format?helloTo=<name>",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.serve(addr, newFormatterRouter(a.tracer))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	return cmd
}

func newPublisherCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "publisher",
		Short: "Serve GET /publish?helloStr=<text> and print the text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(addr, newPublisherRouter(a.tracer, cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8082", "listen address")
	return cmd
}
