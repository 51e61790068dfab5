package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/polisai/polis-pay/pkg/domain"
)

// TransportLambda labels Lambda invocations in metrics.
const TransportLambda = "lambda"

// LambdaConfig configures the Lambda adapter.
type LambdaConfig struct {
	Handler Handler
	Metrics *Metrics
	Logger  *slog.Logger
}

// LambdaHandler turns Lambda events into pipeline invocations.
type LambdaHandler struct {
	handler Handler
	metrics *Metrics
	logger  *slog.Logger
}

// NewLambdaHandler builds the adapter. It panics when cfg.Handler is nil.
func NewLambdaHandler(cfg LambdaConfig) *LambdaHandler {
	if cfg.Handler == nil {
		panic("transport: lambda handler requires a pipeline")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LambdaHandler{handler: cfg.Handler, metrics: cfg.Metrics, logger: logger}
}

// event is the subset of an API Gateway proxy event the adapter reads. Body is
// kept raw so that direct invocations may pass the payload as an object.
type event struct {
	Body              json.RawMessage     `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
	Headers           map[string]string   `json:"headers"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders"`
	RequestContext    struct {
		RequestID string `json:"requestId"`
	} `json:"requestContext"`
}

// Invoke is the function passed to lambda.Start. It never returns an error:
// every failure is reported through the response envelope.
func (h *LambdaHandler) Invoke(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	inv := h.decode(ctx, raw)
	resp := h.handler.Handle(ctx, inv)
	if h.metrics != nil {
		h.metrics.RecordInvocation(TransportLambda, resp.StatusCode)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}, nil
}

func (h *LambdaHandler) decode(ctx context.Context, raw json.RawMessage) domain.Invocation {
	inv := domain.Invocation{Headers: map[string][]string{}}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		inv.RequestID = lc.AwsRequestID
	}

	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		// Not an event object; let validation report the payload.
		h.logger.DebugContext(ctx, "lambda event is not an object", "error", err)
		inv.Body = raw
		return inv
	}

	if inv.RequestID == "" {
		inv.RequestID = ev.RequestContext.RequestID
	}
	for key, values := range ev.MultiValueHeaders {
		inv.Headers[key] = append([]string(nil), values...)
	}
	for key, value := range ev.Headers {
		if _, ok := inv.Headers[key]; !ok {
			inv.Headers[key] = []string{value}
		}
	}
	inv.Body = eventBody(ev)
	return inv
}

// eventBody returns the payload bytes. A JSON string body is unquoted (and
// base64 decoded when flagged); any other JSON value is passed through.
func eventBody(ev event) []byte {
	if len(ev.Body) == 0 || string(ev.Body) == "null" {
		return nil
	}
	if ev.Body[0] != '"' {
		return []byte(ev.Body)
	}
	var text string
	if err := json.Unmarshal(ev.Body, &text); err != nil {
		return []byte(ev.Body)
	}
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return []byte(text)
		}
		return decoded
	}
	return []byte(text)
}
