// Package engine runs payment invocations through an ordered chain of stages.
//
// executor.go - Pipeline: ordered stage execution, short-circuit, terminal call, tracing
// response.go - Outcome to status code and JSON envelope mapping
//
// Stages live in the stages subpackage; the contracts they implement live in
// runtime so that stages never depend on the executor.
package engine
