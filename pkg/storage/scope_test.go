package storage

import (
	"context"
	"testing"
)

func TestScopeFrom(t *testing.T) {
	ctx := context.Background()
	if got := ScopeFrom(ctx); got != (Scope{}) {
		t.Errorf("ScopeFrom(empty) = %+v, want zero scope", got)
	}

	ctx = WithScope(ctx, Scope{Tenant: "org-1"})
	if got := ScopeFrom(ctx).Tenant; got != "org-1" {
		t.Errorf("Tenant = %q, want org-1", got)
	}

	// A stream context outlives its request but keeps the scope.
	detached := context.WithoutCancel(ctx)
	if got := ScopeFrom(detached).Tenant; got != "org-1" {
		t.Errorf("Tenant after WithoutCancel = %q, want org-1", got)
	}
}

func TestScopeVisible(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		owner string
		want  bool
	}{
		{"single tenant sees untenanted", Scope{}, "", true},
		{"single tenant sees tenanted", Scope{}, "org-1", true},
		{"same tenant", Scope{Tenant: "org-1"}, "org-1", true},
		{"other tenant", Scope{Tenant: "org-1"}, "org-2", false},
		{"tenant does not see untenanted", Scope{Tenant: "org-1"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Visible(tt.owner); got != tt.want {
				t.Errorf("Visible(%q) = %v, want %v", tt.owner, got, tt.want)
			}
		})
	}
}
