// Package minitracehttp connects HTTP servers and clients to a minitrace
// Tracer: server spans continue the caller's trace, client requests carry
// the active span to the callee.
package minitracehttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/lightstep/minitrace-go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

// RequestHandlerFunc receives the span context extracted from the request
// headers, or nil when the caller sent none or sent a malformed one.
type RequestHandlerFunc func(w http.ResponseWriter, r *http.Request, parent *minitrace.SpanContext)

// Extracting adapts h to http.Handler.
func Extracting(tracer minitrace.Tracer, h RequestHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, tracer.ExtractContext(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header)))
	})
}

// StartServerSpan starts an active span for r, as a child of the extracted
// caller context if there is one. Every request gets its own active-span
// stack.
func StartServerSpan(tracer minitrace.Tracer, r *http.Request, operationName string) (*minitrace.Scope, context.Context) {
	b := tracer.BuildSpan(operationName, ext.SpanKindRPCServer).
		WithTag(string(ext.HTTPMethod), r.Method).
		WithTag(string(ext.HTTPUrl), r.URL.String())
	if parent := tracer.ExtractContext(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header)); parent != nil {
		b.AsChildOf(*parent)
	}
	return b.StartActive(minitrace.WithNewScopeStack(r.Context()), true)
}

// Middleware runs next under a server span named operationName. The span
// records the response status and is active in the request context.
func Middleware(tracer minitrace.Tracer, operationName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve(tracer, operationName, next, w, r)
	})
}

// RouteMiddleware is Middleware for a mux.Router; spans are named after the
// matched route's name, or its path template.
func RouteMiddleware(tracer minitrace.Tracer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serve(tracer, routeName(r), next, w, r)
		})
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
		if tpl, err := route.GetPathTemplate(); err == nil {
			return strings.TrimPrefix(tpl, "/")
		}
	}
	return r.Method
}

func serve(tracer minitrace.Tracer, operationName string, next http.Handler, w http.ResponseWriter, r *http.Request) {
	scope, ctx := StartServerSpan(tracer, r, operationName)
	defer scope.Close()

	rec := NewStatusRecorder(w)
	next.ServeHTTP(rec, r.WithContext(ctx))

	span := scope.Span()
	ext.HTTPStatusCode.Set(span, uint16(rec.Status))
	if rec.Status >= http.StatusInternalServerError {
		ext.Error.Set(span, true)
	}
}

// InjectRequest tags the active span of ctx as the client side of req and
// writes its context into the request headers. Without an active span the
// request is left alone.
func InjectRequest(ctx context.Context, tracer minitrace.Tracer, req *http.Request) error {
	span := tracer.ActiveSpan(ctx)
	if span == nil {
		return nil
	}
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, req.Method)
	ext.HTTPUrl.Set(span, req.URL.String())
	return tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))
}

// StatusRecorder remembers the status code written through it.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}
