package stages

import (
	"context"
	"log/slog"
	"time"

	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine/runtime"
	"github.com/polisai/polis-pay/pkg/logging"
)

const startedAtKey = "logging.started_at"

// Logging records one entry line when an invocation arrives and one exit line
// when its outcome is known. It never fails the run.
type Logging struct {
	sink logging.Logger
	now  func() time.Time
}

// NewLogging builds the logging stage. A nil sink discards output.
func NewLogging(sink logging.Logger) *Logging {
	if sink == nil {
		sink = logging.Nop{}
	}
	return &Logging{sink: sink, now: time.Now}
}

// Name implements runtime.Stage.
func (l *Logging) Name() string { return NameLogging }

// Execute logs the invocation entry.
func (l *Logging) Execute(ctx context.Context, state runtime.State) (runtime.State, error) {
	inv := state.Invocation
	l.sink.Log(ctx, slog.LevelInfo, "invocation received",
		"request_id", inv.RequestID,
		"body_bytes", len(inv.Body),
		"has_authorization", inv.Header("Authorization") != "" || inv.Header("X-API-Key") != "",
	)
	return state.WithAttribute(startedAtKey, l.now()), nil
}

// Finish logs the invocation exit with its outcome.
func (l *Logging) Finish(ctx context.Context, state runtime.State, outcome domain.Outcome) {
	attrs := []any{
		"request_id", state.Invocation.RequestID,
		"outcome", outcome.Label(),
	}
	if started, ok := state.Attributes[startedAtKey].(time.Time); ok {
		attrs = append(attrs, "duration_ms", l.now().Sub(started).Milliseconds())
	}
	if state.Auth != nil {
		attrs = append(attrs, "subject", state.Auth.Subject, "auth_method", state.Auth.Method)
	}

	level := slog.LevelInfo
	if outcome.OK() {
		attrs = append(attrs, "transaction_id", outcome.Result.TransactionID)
	} else {
		attrs = append(attrs, "error_kind", string(outcome.Err.Kind), "error", outcome.Err.Error())
		if len(outcome.Err.Fields) > 0 {
			attrs = append(attrs, "fields", outcome.Err.Fields)
		}
		if outcome.Err.Kind == domain.KindUnexpected {
			level = slog.LevelError
		} else {
			level = slog.LevelWarn
		}
	}
	l.sink.Log(ctx, level, "invocation completed", attrs...)
}
