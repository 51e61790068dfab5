package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce             sync.Once
	metricsInitErr          error
	stageExecutionCounter   metric.Int64Counter
	stageLatencyHistogram   metric.Float64Histogram
	invocationCounter       metric.Int64Counter
	invocationLatencyHist   metric.Float64Histogram
	debitAmountHistogram    metric.Float64Histogram
	insufficientFundCounter metric.Int64Counter
)

// StageMetrics captures the fields needed to record a stage execution.
type StageMetrics struct {
	Stage    string
	Outcome  string
	Duration time.Duration
}

// InvocationMetrics captures the fields needed to record a complete pipeline run.
type InvocationMetrics struct {
	Outcome    string
	StatusCode int
	Duration   time.Duration
	// Amount is the debited amount for successful runs.
	Amount float64
}

// RecordStageMetrics emits counters and histograms that describe stage behaviour.
func RecordStageMetrics(ctx context.Context, m StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("stage.name", m.Stage),
		attribute.String("stage.outcome", m.Outcome),
	)
	stageExecutionCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		stageLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

// RecordInvocationMetrics emits counters and histograms for a finished invocation.
func RecordInvocationMetrics(ctx context.Context, m InvocationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("payment.outcome", m.Outcome),
		attribute.Int("http.status_code", m.StatusCode),
	)
	invocationCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		invocationLatencyHist.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Amount > 0 {
		debitAmountHistogram.Record(ctx, m.Amount)
	}
	if m.Outcome == "InsufficientFunds" {
		insufficientFundCounter.Add(ctx, 1)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("payments.pipeline")

		stageExecutionCounter, metricsInitErr = meter.Int64Counter(
			"payments.stage.executions_total",
			metric.WithDescription("Pipeline stage executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"payments.stage.duration_ms",
			metric.WithDescription("Observed stage execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		invocationCounter, metricsInitErr = meter.Int64Counter(
			"payments.invocations_total",
			metric.WithDescription("Pipeline invocations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		invocationLatencyHist, metricsInitErr = meter.Float64Histogram(
			"payments.invocation.duration_ms",
			metric.WithDescription("Observed end-to-end invocation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		debitAmountHistogram, metricsInitErr = meter.Float64Histogram(
			"payments.debit.amount",
			metric.WithDescription("Amounts debited by successful payments"),
		)
		if metricsInitErr != nil {
			return
		}

		insufficientFundCounter, metricsInitErr = meter.Int64Counter(
			"payments.insufficient_funds_total",
			metric.WithDescription("Payments rejected because the balance did not cover the amount"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
