// Package storage provides what exchange store implementations share: the
// sentinel errors and the tenant Scope carried on request contexts.
//
// Store implementations (memory, postgres) satisfy the
// transport.ExchangeStore interface defined in pkg/transport/handler.go.
// This package contains only shared types and helpers, not the interface
// itself.
package storage
