package storage

import "context"

// Scope bounds which exchanges a store call may see or write. Exchanges
// saved under a tenant are visible only within that tenant. The zero
// Scope is the single-tenant deployment: it saves untenanted exchanges
// and sees all of them.
type Scope struct {
	Tenant string
}

// Visible reports whether an exchange owned by tenant is visible in s.
func (s Scope) Visible(tenant string) bool {
	return s.Tenant == "" || s.Tenant == tenant
}

type scopeKey struct{}

// WithScope returns ctx carrying s. Streams keep the scope of the request
// that started them, so exchanges recorded on completion land in the
// caller's tenant.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
