package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/lmbroker/pkg/storage"
)

// DefaultTier is the rate limit tier of callers without an explicit tier.
const DefaultTier = "default"

// Decision is an authenticator's vote on a request.
type Decision int

const (
	// Reject ends the chain and refuses the request. It is the zero value,
	// so an unset fallback fails closed.
	Reject Decision = iota

	// Accept ends the chain with the caller's identity.
	Accept

	// Abstain passes the request to the next authenticator, typically
	// because the credentials are not of a kind it understands.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Reject:
		return "reject"
	case Accept:
		return "accept"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision is Accept
	Err      error     // set when Decision is Reject
}

// Identity is the caller on whose behalf sessions, streams and exchanges
// are handled.
type Identity struct {
	// Subject names the caller. It is required and keys rate limiting.
	Subject string

	// Tier selects the caller's rate limit. Empty means DefaultTier.
	Tier string

	// Tenant confines the caller's exchange history. Empty in
	// single-tenant deployments.
	Tenant string

	// Scopes lists granted scopes as reported by the credential.
	Scopes []string
}

// Anonymous returns the identity used when authentication is disabled.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", Tier: DefaultTier}
}

// ExchangeScope returns the storage scope of the caller's exchanges.
func (id *Identity) ExchangeScope() storage.Scope {
	if id == nil {
		return storage.Scope{}
	}
	return storage.Scope{Tenant: id.Tenant}
}

// Clone returns a copy that shares no slices with id.
func (id *Identity) Clone() *Identity {
	c := *id
	c.Scopes = slices.Clone(id.Scopes)
	return &c
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// BearerToken returns the token of a "Bearer" Authorization header.
// ok is false when the header is absent or uses another scheme; an empty
// token with ok true means the scheme was present without credentials.
func BearerToken(r *http.Request) (token string, ok bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Chain asks each authenticator in turn. The first Accept or Reject wins;
// when every authenticator abstains the Fallback decides.
type Chain struct {
	Authenticators []Authenticator

	// Fallback applies when all authenticators abstain. Accept admits the
	// caller as Anonymous.
	Fallback Decision
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.Fallback == Accept {
		return Result{Decision: Accept, Identity: Anonymous()}
	}
	return Result{Decision: Reject, Err: ErrUnauthenticated}
}
