package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewSink_Console(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSink(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	sink.Log(context.Background(), slog.LevelInfo, "payment attempt", "request_id", "req-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "payment attempt", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
}

func TestNewSink_Pretty(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSink(Config{Level: "debug", Sink: SinkPretty, Output: &buf})
	require.NoError(t, err)

	sink.Log(context.Background(), slog.LevelWarn, "balance low", "user_id", "u-1", "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "balance low")
	assert.Contains(t, out, "u-1")
	assert.Contains(t, out, "boom")
}

func TestNewSink_Unknown(t *testing.T) {
	_, err := NewSink(Config{Sink: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestTelemetrySinkAddsSpanEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "invocation")
	var buf bytes.Buffer
	sink := NewTelemetrySink(NewLogger(Config{Output: &buf}))
	sink.Log(ctx, slog.LevelInfo, "payment attempt", "request_id", "req-9")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "payment attempt", events[0].Name)
	assert.Contains(t, buf.String(), "req-9")
}

func TestNormalizeAttrs(t *testing.T) {
	fields := normalizeAttrs([]any{"a", 1, slog.String("b", "x"), "dangling"})
	assert.Equal(t, 1, fields["a"])
	assert.Equal(t, "x", fields["b"])
	assert.Equal(t, "dangling", fields["!BADKEY"])
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.Log(context.Background(), slog.LevelInfo, "one")
	rec.Log(context.Background(), slog.LevelInfo, "two", "k", "v")
	rec.Log(context.Background(), slog.LevelInfo, "one")

	assert.Equal(t, 2, rec.Count("one"))
	assert.Equal(t, []string{"one", "two", "one"}, rec.Messages())
	assert.Equal(t, "v", rec.Entries()[1].Attrs["k"])
}

func TestNopNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop{}.Log(context.Background(), slog.LevelError, "ignored", "k")
	})
}
