// Package governance coordinates runtime safety controls for the payment
// pipeline: the per-invocation deadline and the circuit breaker that protects
// the balance store.
//
// Nothing in this package retries. A failed or timed-out call is reported to
// the caller, and retry policy, if any, belongs to the caller or the store.
package governance
