// Package logging provides the structured log sinks used by the payment pipeline.
//
// The pipeline only depends on the Logger capability. The concrete sink is
// chosen once at process start from configuration and injected into the
// components that need it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sink names accepted in configuration.
const (
	SinkConsole   = "console"
	SinkPretty    = "pretty"
	SinkTelemetry = "telemetry"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Format string // json, text
	Sink   string // console, pretty, telemetry
	Output io.Writer
}

// Logger is the logging capability consumed by the pipeline. Implementations
// must never panic and never block the caller on their own failure.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, attrs ...any)
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process slog logger.
func NewLogger(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// NewSink selects the Logger implementation named by cfg.Sink.
func NewSink(cfg Config) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkConsole:
		return NewSlogSink(NewLogger(cfg)), nil
	case SinkPretty:
		return NewZerologSink(cfg), nil
	case SinkTelemetry:
		return NewTelemetrySink(NewLogger(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown log sink %q", cfg.Sink)
	}
}

// SlogSink writes log lines through a *slog.Logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger, falling back to slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Log implements Logger.
func (s *SlogSink) Log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	defer func() { _ = recover() }()
	s.logger.Log(ctx, level, msg, attrs...)
}

// ZerologSink renders human-friendly console output.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink builds a console writer sink.
func NewZerologSink(cfg Config) *ZerologSink {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	writer := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Output != nil,
	}
	level := zerologLevel(ParseLevel(cfg.Level))
	return &ZerologSink{logger: zerolog.New(writer).Level(level).With().Timestamp().Logger()}
}

// Log implements Logger.
func (s *ZerologSink) Log(_ context.Context, level slog.Level, msg string, attrs ...any) {
	defer func() { _ = recover() }()
	event := s.logger.WithLevel(zerologLevel(level))
	if len(attrs) > 0 {
		event = event.Fields(normalizeAttrs(attrs))
	}
	event.Msg(msg)
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// normalizeAttrs converts slog-style key/value pairs into a field map. A
// dangling key is kept with a "!BADKEY" marker like slog does.
func normalizeAttrs(attrs []any) map[string]any {
	fields := make(map[string]any, len(attrs)/2+1)
	for i := 0; i < len(attrs); i++ {
		switch v := attrs[i].(type) {
		case slog.Attr:
			fields[v.Key] = v.Value.Any()
		case string:
			if i+1 >= len(attrs) {
				fields["!BADKEY"] = v
				continue
			}
			value := attrs[i+1]
			if err, ok := value.(error); ok {
				value = err.Error()
			}
			fields[v] = value
			i++
		default:
			fields["!BADKEY"] = v
		}
	}
	return fields
}

// Nop discards everything.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(context.Context, slog.Level, string, ...any) {}
