package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine"
)

// TransportHTTP labels HTTP invocations in metrics.
const TransportHTTP = "http"

// DefaultMaxBodyBytes caps the payment request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// Routes served by the HTTP transport.
const (
	RoutePayments = "/v1/payments"
	RouteHealth   = "/healthz"
	RouteMetrics  = "/metrics"
)

// HTTPConfig configures the HTTP router.
type HTTPConfig struct {
	Handler      Handler
	Metrics      *Metrics
	Logger       *slog.Logger
	MaxBodyBytes int64
	// HealthCheck reports readiness for /healthz; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// NewRouter builds the HTTP handler for the payment service. It panics when
// cfg.Handler is nil.
func NewRouter(cfg HTTPConfig) http.Handler {
	if cfg.Handler == nil {
		panic("transport: http router requires a pipeline")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)

	r.Post(RoutePayments, paymentsHandler(cfg))
	r.Get(RouteHealth, healthHandler(cfg))
	r.Handle(RouteMetrics, cfg.Metrics.Handler())

	return otelhttp.NewHandler(r, "payments.http")
}

func paymentsHandler(cfg HTTPConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			msg := "request body could not be read"
			if errors.As(err, &tooLarge) {
				msg = "request body too large"
			}
			cfg.Logger.WarnContext(r.Context(), "payment request rejected", "error", err)
			resp := engine.Render(domain.Failure(domain.ValidationFailure([]string{"body"}, "%s", msg)))
			cfg.Metrics.RecordInvocation(TransportHTTP, resp.StatusCode)
			writeResponse(w, resp)
			return
		}

		inv := domain.Invocation{
			RequestID: middleware.GetReqID(r.Context()),
			Headers:   r.Header.Clone(),
			Body:      body,
		}
		resp := cfg.Handler.Handle(r.Context(), inv)
		cfg.Metrics.RecordInvocation(TransportHTTP, resp.StatusCode)
		writeResponse(w, resp)
	}
}

func healthHandler(cfg HTTPConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				cfg.Logger.WarnContext(r.Context(), "health check failed", "error", err)
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func writeResponse(w http.ResponseWriter, resp domain.Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
