// Package app assembles the payment service from configuration. It is shared
// by every command of the polis-pay binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/polisai/polis-pay/internal/governance"
	"github.com/polisai/polis-pay/pkg/auth"
	"github.com/polisai/polis-pay/pkg/config"
	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine"
	"github.com/polisai/polis-pay/pkg/engine/runtime"
	"github.com/polisai/polis-pay/pkg/engine/stages"
	"github.com/polisai/polis-pay/pkg/logging"
	"github.com/polisai/polis-pay/pkg/payment"
	"github.com/polisai/polis-pay/pkg/policy"
	"github.com/polisai/polis-pay/pkg/storage"
	"github.com/polisai/polis-pay/pkg/telemetry"
	"github.com/polisai/polis-pay/pkg/transport"
)

// Options adjust how the application is built.
type Options struct {
	// Output receives log lines; nil means stdout.
	Output io.Writer
	// Store overrides the configured store. The caller keeps ownership.
	Store storage.Store
	// SkipTelemetry leaves the global tracer provider untouched.
	SkipTelemetry bool
}

// App is a fully wired payment service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Store
	Pipeline *engine.Pipeline
	Metrics  *transport.Metrics

	repository domain.BalanceRepository
	breaker    *governance.CircuitBreaker
	policy     *policy.Swappable
	ownsStore  bool
	shutdown   func(context.Context) error
}

// OpenStore opens the configured store. SQLite schemas are created on open.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.Driver,
		DSN:      cfg.DSN,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if m, ok := store.(storage.Migrator); ok && cfg.Driver == storage.DriverSQLite {
		if err := m.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// Build wires the pipeline Logging -> Auth -> Validation -> PaymentService.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Sink:   cfg.Logging.Sink,
		Output: opts.Output,
	}
	logger := logging.NewLogger(logCfg)
	sink, err := logging.NewSink(logCfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  transport.NewMetrics(),
		shutdown: func(context.Context) error { return nil },
	}

	if !opts.SkipTelemetry {
		shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Endpoint:     cfg.Telemetry.OTLPEndpoint,
			Environment:  cfg.Telemetry.Environment,
			Insecure:     cfg.Telemetry.Insecure,
			ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
		})
		if err != nil {
			return nil, fmt.Errorf("initialize telemetry: %w", err)
		}
		a.shutdown = shutdown
	}

	if opts.Store != nil {
		a.Store = opts.Store
	} else {
		store, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			_ = a.shutdown(ctx)
			return nil, err
		}
		a.Store = store
		a.ownsStore = true
	}

	if err := a.wire(ctx, sink); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	logger.InfoContext(ctx, "payment pipeline ready",
		"stages", a.Pipeline.StageNames(),
		"storage", cfg.Storage.Driver,
		"log_sink", cfg.Logging.Sink,
		"policy", a.policyLabel(),
	)
	return a, nil
}

func (a *App) wire(ctx context.Context, sink logging.Logger) error {
	cfg := a.Config

	a.repository = a.Store
	if cb := cfg.Storage.CircuitBreaker; cb.MaxFailures > 0 {
		guarded := storage.NewGuarded(a.Store, governance.CircuitBreakerConfig{
			MaxFailures:         cb.MaxFailures,
			Timeout:             cb.OpenTimeout,
			MaxHalfOpenRequests: 1,
		})
		a.repository = guarded
		a.breaker = guarded.Breaker()
	}

	chain, err := AuthChain(cfg.Auth)
	if err != nil {
		return err
	}

	var authorizer policy.Authorizer = policy.AllowAll{}
	if !cfg.Auth.Policy.Disabled {
		eng, err := a.loadPolicy(ctx)
		if err != nil {
			return err
		}
		a.policy = policy.NewSwappable(eng)
		authorizer = a.policy
	}

	authStage, err := stages.NewAuth(stages.AuthConfig{
		Authenticator: chain,
		Authorizer:    authorizer,
		Action:        policy.ActionDebit,
	})
	if err != nil {
		return err
	}
	validation, err := stages.NewValidation()
	if err != nil {
		return err
	}
	service, err := payment.NewService(payment.ServiceConfig{Repository: a.repository, Logger: a.Logger})
	if err != nil {
		return err
	}

	a.Pipeline, err = engine.NewPipeline(engine.PipelineConfig{
		Stages:   []runtime.Stage{stages.NewLogging(sink), authStage, validation},
		Terminal: service,
		Logger:   a.Logger,
		Timeout:  cfg.Pipeline.Timeout,
	})
	return err
}

func (a *App) loadPolicy(ctx context.Context) (*policy.Engine, error) {
	pc := a.Config.Auth.Policy
	if pc.File == "" {
		return policy.NewDefaultEngine(ctx, a.Logger)
	}
	eng, err := policy.LoadEngine(ctx, pc.File, pc.Entrypoint, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", pc.File, err)
	}
	return eng, nil
}

func (a *App) policyLabel() string {
	switch {
	case a.policy == nil:
		return "disabled"
	case a.Config.Auth.Policy.File != "":
		return a.Config.Auth.Policy.File
	default:
		return "builtin"
	}
}

// AuthChain builds the credential verifiers named by cfg.
func AuthChain(cfg config.AuthConfig) (auth.Chain, error) {
	var verifiers []auth.Verifier

	if cfg.JWT.Secret != "" {
		jwtVerifier, err := auth.NewJWTVerifier(auth.JWTConfig{
			Secret:   []byte(cfg.JWT.Secret),
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		})
		if err != nil {
			return auth.Chain{}, fmt.Errorf("jwt verifier: %w", err)
		}
		verifiers = append(verifiers, jwtVerifier)
	}

	if len(cfg.APIKeys) > 0 {
		keys := make([]auth.APIKey, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, auth.APIKey{Subject: k.Subject, Hash: k.Hash, Scopes: k.Scopes})
		}
		keyVerifier, err := auth.NewAPIKeyVerifier(keys)
		if err != nil {
			return auth.Chain{}, fmt.Errorf("api key verifier: %w", err)
		}
		verifiers = append(verifiers, keyVerifier)
	}

	if len(verifiers) == 0 {
		return auth.Chain{}, errors.New("no credential verifiers configured")
	}
	return auth.NewChain(verifiers...), nil
}

// WatchPolicy starts reloading the policy file when configured to. The
// returned watcher is nil when watching is off.
func (a *App) WatchPolicy(ctx context.Context) (*policy.Watcher, error) {
	pc := a.Config.Auth.Policy
	if a.policy == nil || pc.File == "" || !pc.Watch {
		return nil, nil
	}
	w, err := policy.NewWatcher(policy.WatcherConfig{
		Path:       pc.File,
		Entrypoint: pc.Entrypoint,
		Target:     a.policy,
		Logger:     a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return nil, fmt.Errorf("start policy watcher: %w", err)
	}
	return w, nil
}

// HealthCheck fails while the store circuit is open.
func (a *App) HealthCheck(context.Context) error {
	if a.breaker != nil && a.breaker.State() == governance.StateOpen {
		return storage.ErrStoreUnavailable
	}
	return nil
}

// HTTPHandler returns the HTTP transport for the pipeline.
func (a *App) HTTPHandler() http.Handler {
	return transport.NewRouter(transport.HTTPConfig{
		Handler:     a.Pipeline,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
		HealthCheck: a.HealthCheck,
	})
}

// LambdaHandler returns the Lambda transport for the pipeline.
func (a *App) LambdaHandler() *transport.LambdaHandler {
	return transport.NewLambdaHandler(transport.LambdaConfig{
		Handler: a.Pipeline,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	})
}

// Close releases the store (when owned) and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.ownsStore && a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
