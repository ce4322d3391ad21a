package auth

import (
	"context"

	"github.com/rhuss/lmbroker/pkg/storage"
)

type identityKey struct{}

// WithIdentity returns ctx carrying the caller identity and its exchange
// scope, so stores see the tenant without knowing about auth.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	return storage.WithScope(ctx, id.ExchangeScope())
}

// IdentityFrom returns the caller identity, nil outside authenticated
// requests.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Subject returns the caller's subject for log attribution, or "" when
// the request was not authenticated.
func Subject(ctx context.Context) string {
	if id := IdentityFrom(ctx); id != nil {
		return id.Subject
	}
	return ""
}
