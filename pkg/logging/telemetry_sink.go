package logging

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TelemetrySink records each line as an event on the active span so it is
// exported with the trace, and mirrors it to slog for local visibility.
type TelemetrySink struct {
	fallback *SlogSink
}

// NewTelemetrySink builds a span-event sink.
func NewTelemetrySink(logger *slog.Logger) *TelemetrySink {
	return &TelemetrySink{fallback: NewSlogSink(logger)}
}

// Log implements Logger.
func (s *TelemetrySink) Log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	defer func() { _ = recover() }()
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		kv := []attribute.KeyValue{attribute.String("log.severity", level.String())}
		for key, value := range normalizeAttrs(attrs) {
			kv = append(kv, attribute.String(key, fmt.Sprint(value)))
		}
		span.AddEvent(msg, trace.WithAttributes(kv...))
	}
	s.fallback.Log(ctx, level, msg, attrs...)
}
