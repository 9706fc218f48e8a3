/*
Package minitrace records spans, links them into traces across process
boundaries and keeps track of the active span of each logical thread.

A Tracer implements opentracing.Tracer. Spans start from a SpanBuilder:

	tracer := minitrace.NewTracer(minitrace.WithServiceName("frontend"))
	defer tracer.Close(context.Background())

	scope, ctx := tracer.BuildSpan("say-hello").StartActive(ctx, true)
	defer scope.Close()

The active span is carried by context.Context. Spans started from a context
become children of the span that context was activated with. Goroutines may
share a context: a scope started from a context whose scope is no longer the
top of its stack begins a stack of its own, so siblings never nest under each
other. WithNewScopeStack gives a context no active span at all.

Span contexts travel with Tracer.Inject and Tracer.Extract. TextMap and
HTTPHeaders carriers use the keys trace-id, span-id, sampled and
baggage-<name>; Binary carriers hold a length-prefixed protobuf message.

Failures the instrumented program cannot act on, such as malformed carriers,
spans finished twice or reporter errors, never surface as panics. They are
delivered as Events to the handler installed with SetGlobalEventHandler.
*/
package minitrace
