package tracing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/id"
)

// TraceID correlates every span and log line born from one request.
type TraceID string

// SpanID identifies a single operation inside a trace.
type SpanID string

// Span records one traced operation.
type Span struct {
	TraceID   TraceID
	SpanID    SpanID
	ParentID  SpanID
	Name      string
	Service   string
	StartTime time.Time
	Duration  time.Duration
	Tags      map[string]string
	Status    int
	Err       error
}

// Tracer processes finished spans off the request path.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
}

// New creates a tracer for service and starts its collector.
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1024),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span under the trace carried by ctx, minting a
// fresh trace ID when the context has none. The returned context
// carries the trace for child spans.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	parentID, _ := ctx.Value(spanIDKey).(SpanID)

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.NewRequestID()),
		ParentID:  parentID,
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Finish stamps the span's duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag attaches a key/value annotation.
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError marks the span failed.
func (s *Span) SetError(err error) {
	s.Err = err
}

// SetStatus records the HTTP status the operation answered with.
func (s *Span) SetStatus(code int) {
	s.Status = code
}

// Submit queues a finished span for the collector. A full buffer drops
// the span rather than stall the caller.
func (t *Tracer) Submit(span *Span) {
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("request_id", string(span.TraceID)),
			zap.String("operation", span.Name))
	}
}

// Close drains queued spans and stops the collector.
func (t *Tracer) Close() {
	close(t.spans)
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.log(span)
	}
}

func (t *Tracer) log(span *Span) {
	fields := []zap.Field{
		zap.String("request_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.String("service", span.Service),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Err != nil {
		t.logger.Error("Request failed", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Info("Request served", fields...)
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID returns the trace ID carried by ctx, or "".
func GetTraceID(ctx context.Context) TraceID {
	if traceID, ok := ctx.Value(traceIDKey).(TraceID); ok {
		return traceID
	}
	return ""
}
