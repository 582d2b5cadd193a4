/*
Package tracing correlates work done on behalf of one API request.

Every request entering the engine is assigned a ULID-backed request ID
(honoring an X-Request-ID header when the caller already has one), and
a span records the route, status, and duration once the request
finishes. Spans are handed to a single collector goroutine and logged
through zap, so submission never blocks a request.

	tracer := tracing.New("plugin-engine", logger)
	router.Use(tracing.HTTPMiddleware(tracer))

Handlers that fan out can open child spans from the request context:

	span, ctx := tracer.StartSpan(ctx, "stage_version")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
