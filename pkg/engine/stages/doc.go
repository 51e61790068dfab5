// Package stages provides the pipeline middleware: request logging,
// authentication with policy authorization, and payload validation.
package stages

// Stage names as reported in logs, spans and metrics.
const (
	NameLogging    = "logging"
	NameAuth       = "auth"
	NameValidation = "validation"
)
