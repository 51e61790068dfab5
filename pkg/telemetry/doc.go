// Package telemetry wires OpenTelemetry exporters and meters for the payment
// pipeline.
//
// It centralises trace provider setup, records per-stage and per-invocation
// metrics, and redacts sensitive attributes (credentials, raw bodies, account
// identifiers) before they are attached to spans.
package telemetry
