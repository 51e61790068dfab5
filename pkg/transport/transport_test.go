package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine"
)

type captureHandler struct {
	mu   sync.Mutex
	invs []domain.Invocation
	resp domain.Response
}

func newCaptureHandler(status int, body string) *captureHandler {
	return &captureHandler{resp: domain.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}}
}

func (h *captureHandler) Handle(_ context.Context, inv domain.Invocation) domain.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invs = append(h.invs, inv)
	return h.resp
}

func (h *captureHandler) last(t *testing.T) domain.Invocation {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.invs, "handler was not called")
	return h.invs[len(h.invs)-1]
}

func (h *captureHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.invs)
}

const payload = `{"userId":"u-1","amount":30}`

func TestLambdaProxyEventWithStringBody(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, `{"message":"Payment successful"}`)
	lh := NewLambdaHandler(LambdaConfig{Handler: h})

	raw, err := json.Marshal(map[string]any{
		"body":    payload,
		"headers": map[string]string{"Authorization": "Bearer abc"},
		"requestContext": map[string]any{
			"requestId": "req-gw",
		},
	})
	require.NoError(t, err)

	resp, err := lh.Invoke(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"message":"Payment successful"}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	inv := h.last(t)
	assert.Equal(t, payload, string(inv.Body))
	assert.Equal(t, "Bearer abc", inv.Header("authorization"))
	assert.Equal(t, "req-gw", inv.RequestID)
}

func TestLambdaBase64Body(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	lh := NewLambdaHandler(LambdaConfig{Handler: h})

	raw, err := json.Marshal(map[string]any{
		"body":            base64.StdEncoding.EncodeToString([]byte(payload)),
		"isBase64Encoded": true,
	})
	require.NoError(t, err)

	_, err = lh.Invoke(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, payload, string(h.last(t).Body))
}

func TestLambdaDirectInvocationWithObjectBody(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	lh := NewLambdaHandler(LambdaConfig{Handler: h})

	raw := json.RawMessage(`{"body":` + payload + `,"multiValueHeaders":{"X-API-Key":["pp_live_x"]},"headers":{"X-API-Key":"ignored"}}`)
	_, err := lh.Invoke(context.Background(), raw)
	require.NoError(t, err)

	inv := h.last(t)
	assert.JSONEq(t, payload, string(inv.Body))
	assert.Equal(t, []string{"pp_live_x"}, inv.Headers["X-API-Key"])
}

func TestLambdaMissingBody(t *testing.T) {
	h := newCaptureHandler(http.StatusBadRequest, "{}")
	lh := NewLambdaHandler(LambdaConfig{Handler: h})

	for _, raw := range []string{`{}`, `{"body":null}`} {
		_, err := lh.Invoke(context.Background(), json.RawMessage(raw))
		require.NoError(t, err)
		assert.Empty(t, h.last(t).Body, raw)
	}
}

func TestLambdaNonObjectEventPassesThrough(t *testing.T) {
	h := newCaptureHandler(http.StatusBadRequest, "{}")
	lh := NewLambdaHandler(LambdaConfig{Handler: h})

	_, err := lh.Invoke(context.Background(), json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(h.last(t).Body))
}

func TestLambdaRequestIDFromContext(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	metrics := NewMetrics()
	lh := NewLambdaHandler(LambdaConfig{Handler: h, Metrics: metrics})

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "aws-123"})
	_, err := lh.Invoke(ctx, json.RawMessage(`{"body":"{}","requestContext":{"requestId":"gw"}}`))
	require.NoError(t, err)
	assert.Equal(t, "aws-123", h.last(t).RequestID)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "payments_invocations_total" {
			found = true
			require.Len(t, family.GetMetric(), 1)
			assert.Equal(t, float64(1), family.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "invocation counter not registered")
}

func TestNewLambdaHandlerRequiresHandler(t *testing.T) {
	assert.Panics(t, func() { NewLambdaHandler(LambdaConfig{}) })
}

func TestHTTPPayments(t *testing.T) {
	h := newCaptureHandler(http.StatusUnauthorized, `{"message":"Error processing purchase","error":"missing credentials"}`)
	router := NewRouter(HTTPConfig{Handler: h})

	req := httptest.NewRequest(http.MethodPost, RoutePayments, strings.NewReader(payload))
	req.Header.Set("X-API-Key", "pp_live_abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, h.resp.Body, rec.Body.String())

	inv := h.last(t)
	assert.Equal(t, payload, string(inv.Body))
	assert.Equal(t, "pp_live_abc", inv.Header("X-API-Key"))
	assert.NotEmpty(t, inv.RequestID)
}

func TestHTTPBodyTooLarge(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	router := NewRouter(HTTPConfig{Handler: h, MaxBodyBytes: 8})

	req := httptest.NewRequest(http.MethodPost, RoutePayments, strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body domain.ResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, engine.MessageFailure, body.Message)
	assert.Contains(t, body.Error, "too large")
	assert.Zero(t, h.calls())
}

func TestHTTPMethodAndRoute(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	router := NewRouter(HTTPConfig{Handler: h})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RoutePayments, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/refunds", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, h.calls())
}

func TestHTTPHealth(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")

	healthy := NewRouter(HTTPConfig{Handler: h})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	unhealthy := NewRouter(HTTPConfig{
		Handler:     h,
		HealthCheck: func(context.Context) error { return errors.New("store down") },
	})
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	h := newCaptureHandler(http.StatusOK, "{}")
	metrics := NewMetrics()
	srv := httptest.NewServer(NewRouter(HTTPConfig{Handler: h, Metrics: metrics}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+RoutePayments, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + RouteMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	scraped, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(scraped)
	assert.Contains(t, text, `payments_http_requests_total{method="POST",route="/v1/payments",status_code="200"} 1`)
	assert.Contains(t, text, `payments_invocations_total{status_code="200",transport="http"} 1`)
}
