// Package jwt authenticates HMAC-signed JWT bearer tokens issued with a
// shared secret. The subject, tenant, service tier and scopes are read
// from configurable claims.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/lmbroker/pkg/auth"
)

// ErrNoSecret is returned by New when no signing secret is configured.
var ErrNoSecret = errors.New("jwt: signing secret is required")

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret is the shared HMAC key.
	Secret []byte

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// UserClaim names the subject claim. Default: "sub".
	UserClaim string

	// TenantClaim names the claim holding the caller's tenant. Default: "tenant_id".
	TenantClaim string

	// TierClaim names the claim used as service tier. Default: "tier".
	TierClaim string

	// ScopesClaim names the scopes claim, either a space-separated string
	// or an array. Default: "scope".
	ScopesClaim string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	parser *jwtlib.Parser
}

// New creates a JWT authenticator.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(cfg.Leeway))
	}

	return &Authenticator{
		config: cfg,
		parser: jwtlib.NewParser(opts...),
	}, nil
}

// Authenticate abstains without a bearer token and rejects any token
// that fails signature, expiry, issuer or audience checks.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.Reject, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	if _, err := a.parser.ParseWithClaims(tokenStr, claims, a.key); err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.Result{Decision: auth.Reject, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.Result{
			Decision: auth.Reject,
			Err:      fmt.Errorf("JWT missing %q claim", a.config.UserClaim),
		}
	}

	return auth.Result{Decision: auth.Accept, Identity: &auth.Identity{
		Subject: subject,
		Tier:    claimString(claims, a.config.TierClaim),
		Tenant:  claimString(claims, a.config.TenantClaim),
		Scopes:  extractScopes(claims, a.config.ScopesClaim),
	}}
}

func (a *Authenticator) key(*jwtlib.Token) (any, error) {
	return a.config.Secret, nil
}

// claimString returns the claim as a string, or "" when missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes accepts "read write" or ["read", "write"].
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	var scopes []string
	switch v := claims[key].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}
