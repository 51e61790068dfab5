package telemetry

import (
	"github.com/polisai/polis-pay/pkg/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordPolicyDecision annotates the provided span with the authorization decision.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.String("policy.decision.action", string(decision.Action)))
	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}
	for key, value := range decision.Metadata {
		if value == "" {
			continue
		}
		span.SetAttributes(attribute.String("policy."+key, value))
	}

	if decision.Action == policy.ActionDeny {
		span.AddEvent("policy.denied")
	}
}
