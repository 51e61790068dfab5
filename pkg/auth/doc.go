// Package auth verifies caller credentials carried by an invocation and turns
// them into a domain.AuthContext.
//
// Two credential kinds are supported: HMAC-signed bearer tokens and static API
// keys stored as SHA-256 hashes. A Chain picks the verifier whose credential is
// present, so a request never needs to carry both.
package auth
