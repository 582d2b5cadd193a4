package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the correlation ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware assigns each request a trace, echoes its ID in the
// response headers, and submits a span when the request finishes. An
// inbound X-Request-ID is honored so callers can stitch engine logs
// into their own.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if inbound := c.GetHeader(RequestIDHeader); inbound != "" {
			ctx = context.WithValue(ctx, traceIDKey, TraceID(inbound))
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		span, ctx := tracer.StartSpan(ctx, route)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, string(span.TraceID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
