package policy

// DefaultEntrypoint is the decision path of DefaultModule.
const DefaultEntrypoint = "payments/authz/decision"

// DefaultModule lets API-key callers debit and requires the payments:write
// scope from token callers.
const DefaultModule = `package payments.authz

import rego.v1

default allow := false

allow if input.method == "api_key"

allow if "payments:write" in input.scopes

decision := {"action": "allow"} if allow

decision := {"action": "deny", "reason": "caller lacks payments:write scope"} if not allow
`
