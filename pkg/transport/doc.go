// Package transport adapts outer entry points onto the payment pipeline.
//
// Two adapters are provided: an AWS Lambda handler that accepts API Gateway
// proxy events as well as direct invocations, and a chi based HTTP router for
// long running deployments. Both hand a raw domain.Invocation to a Handler and
// write back the envelope it returns without interpreting it.
package transport

import (
	"context"

	"github.com/polisai/polis-pay/pkg/domain"
)

// Handler processes one invocation and returns its response envelope.
// *engine.Pipeline satisfies it.
type Handler interface {
	Handle(ctx context.Context, inv domain.Invocation) domain.Response
}
