package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-pay/internal/governance"
	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine/runtime"
	"github.com/polisai/polis-pay/pkg/telemetry"
)

// ErrNoStages is returned when a pipeline is configured without stages.
var ErrNoStages = errors.New("pipeline requires at least one stage")

// ErrNoTerminal is returned when a pipeline is configured without a terminal handler.
var ErrNoTerminal = errors.New("pipeline requires a terminal handler")

// PipelineConfig holds dependencies for creating a Pipeline.
type PipelineConfig struct {
	Stages   []runtime.Stage
	Terminal runtime.Terminal
	Logger   *slog.Logger
	// Timeout bounds a whole invocation. Zero selects the governance default.
	Timeout time.Duration
}

// Pipeline runs stages strictly in order and hands the validated request to
// the terminal handler. The first failing stage short-circuits the run.
type Pipeline struct {
	stages   []runtime.Stage
	terminal runtime.Terminal
	logger   *slog.Logger
	timeouts *governance.TimeoutManager
}

// NewPipeline validates cfg and builds a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if len(cfg.Stages) == 0 {
		return nil, ErrNoStages
	}
	if cfg.Terminal == nil {
		return nil, ErrNoTerminal
	}
	seen := make(map[string]struct{}, len(cfg.Stages))
	for i, stage := range cfg.Stages {
		if stage == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		if _, dup := seen[stage.Name()]; dup {
			return nil, fmt.Errorf("stage %q configured twice", stage.Name())
		}
		seen[stage.Name()] = struct{}{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeoutCfg := governance.DefaultTimeoutConfig()
	if cfg.Timeout > 0 {
		timeoutCfg.InvocationTimeout = cfg.Timeout
	}

	return &Pipeline{
		stages:   append([]runtime.Stage(nil), cfg.Stages...),
		terminal: cfg.Terminal,
		logger:   logger,
		timeouts: governance.NewTimeoutManager(timeoutCfg),
	}, nil
}

// StageNames returns the configured stage order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name()
	}
	return names
}

// Handle runs the pipeline and renders the outcome as a response envelope.
func (p *Pipeline) Handle(ctx context.Context, inv domain.Invocation) domain.Response {
	return Render(p.Run(ctx, inv))
}

// Run executes one invocation and returns exactly one outcome.
func (p *Pipeline) Run(ctx context.Context, inv domain.Invocation) domain.Outcome {
	start := time.Now()

	ctx, cancel := p.timeouts.WithInvocationTimeout(ctx)
	defer cancel()

	tracer := otel.Tracer("payments.pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("request.id", inv.RequestID),
		attribute.Int("pipeline.stages", len(p.stages)),
	))
	defer span.End()

	state := runtime.NewState(inv)
	started := make([]runtime.Stage, 0, len(p.stages))

	var outcome domain.Outcome
	failed := false
	for i, stage := range p.stages {
		started = append(started, stage)

		next, err := p.executeStage(ctx, tracer, i, stage, state)
		if err != nil {
			outcome = domain.Failure(p.classify(ctx, err))
			failed = true
			break
		}
		state = next
	}

	if !failed {
		outcome = p.executeTerminal(ctx, tracer, state)
	}

	p.finish(ctx, started, state, outcome)

	status := StatusCode(outcome)
	span.SetAttributes(
		attribute.String("payment.outcome", outcome.Label()),
		attribute.Int("http.status_code", status),
	)
	if !outcome.OK() {
		span.SetStatus(codes.Error, string(outcome.Err.Kind))
		if outcome.Err.Kind == domain.KindUnexpected {
			span.RecordError(outcome.Err)
			p.logger.ErrorContext(ctx, "invocation failed unexpectedly",
				"request_id", inv.RequestID,
				"error", outcome.Err.Error(),
			)
		}
	}

	metrics := telemetry.InvocationMetrics{
		Outcome:    outcome.Label(),
		StatusCode: status,
		Duration:   time.Since(start),
	}
	if outcome.OK() && state.Request != nil {
		metrics.Amount = state.Request.Amount().InexactFloat64()
	}
	telemetry.RecordInvocationMetrics(ctx, metrics)

	return outcome
}

func (p *Pipeline) executeStage(ctx context.Context, tracer trace.Tracer, index int, stage runtime.Stage, state runtime.State) (next runtime.State, err error) {
	stageCtx, span := tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.name", stage.Name()),
		attribute.Int("stage.index", index),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = domain.Unexpected(fmt.Errorf("stage %q panicked: %v", stage.Name(), r))
		}

		label := "success"
		if err != nil {
			label = string(domain.Classify(err).Kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
		}
		span.SetAttributes(attribute.String("stage.outcome", label))
		span.End()

		telemetry.RecordStageMetrics(ctx, telemetry.StageMetrics{
			Stage:    stage.Name(),
			Outcome:  label,
			Duration: time.Since(start),
		})
	}()

	if err := ctx.Err(); err != nil {
		return state, err
	}
	return stage.Execute(stageCtx, state)
}

func (p *Pipeline) executeTerminal(ctx context.Context, tracer trace.Tracer, state runtime.State) (outcome domain.Outcome) {
	if state.Auth == nil || state.Request == nil {
		return domain.Failure(domain.Unexpected(errors.New("terminal reached without auth context and validated request")))
	}

	termCtx, span := tracer.Start(ctx, "pipeline.terminal")
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Failure(domain.Unexpected(fmt.Errorf("terminal panicked: %v", r)))
		}
		if !outcome.OK() {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, string(outcome.Err.Kind))
		}
		span.End()
	}()

	result, err := p.terminal.Handle(termCtx, *state.Auth, *state.Request)
	if err != nil {
		return domain.Failure(p.classify(ctx, err))
	}
	return domain.Success(result)
}

// classify converts err into a *domain.Error, reporting an expired invocation
// deadline as unexpected.
func (p *Pipeline) classify(ctx context.Context, err error) *domain.Error {
	if timeoutErr := p.timeouts.TimeoutError(ctx); timeoutErr != nil && !domain.IsKind(err, domain.KindBusiness) {
		return domain.Unexpected(fmt.Errorf("%w: %w", timeoutErr, err))
	}
	return domain.Classify(err)
}

// finish gives every started stage the outcome, innermost first.
func (p *Pipeline) finish(ctx context.Context, started []runtime.Stage, state runtime.State, outcome domain.Outcome) {
	for i := len(started) - 1; i >= 0; i-- {
		finisher, ok := started[i].(runtime.Finisher)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.ErrorContext(ctx, "stage finish panicked", "stage", started[i].Name(), "panic", fmt.Sprint(r))
				}
			}()
			finisher.Finish(ctx, state, outcome)
		}()
	}
}
