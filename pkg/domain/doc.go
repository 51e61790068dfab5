// Package domain defines the core business types and interfaces for the payment
// pipeline.
//
// This package contains pure domain logic. The only dependency outside the Go
// standard library is github.com/shopspring/decimal, which carries money
// amounts. All types in this package are:
//
// - Independent of infrastructure (no database, HTTP, Lambda, etc.)
// - Technology-agnostic (no framework coupling)
// - Testable in isolation without mocks
//
// Other packages (auth, engine, payment, storage, transport) implement the
// interfaces defined here and depend on these types. The dependency direction
// is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
