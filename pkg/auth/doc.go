// Package auth authenticates broker requests.
//
// Authentication uses a chain of authenticators with three-outcome voting:
// each authenticator returns Yes (identity found), No (credentials invalid),
// or Abstain (credentials not its kind). A default decision applies when
// every authenticator abstains.
//
// The chain runs as HTTP middleware in front of the broker routes. On
// success the middleware stores the identity in the request context,
// scopes exchange storage to the identity's tenant and, when configured,
// enforces a per-tier request rate.
package auth
