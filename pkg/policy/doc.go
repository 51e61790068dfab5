// Package policy integrates the Open Policy Agent (OPA) engine with the payment
// pipeline, deciding whether an authenticated caller may perform an action.
//
// Rego modules are compiled once and their prepared queries are cached;
// decisions for identical callers are memoised in a bounded LRU. The package
// knows nothing about HTTP or Lambda so policies can be tested and hot-reloaded
// independently of the transports.
package policy
