// Package noop backs the "none" auth type: every request runs as the
// anonymous caller in the default tier, with no tenant, so exchange
// history is shared by all callers.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/lmbroker/pkg/auth"
)

// Authenticator accepts every request.
type Authenticator struct{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.Result {
	return auth.Result{Decision: auth.Accept, Identity: auth.Anonymous()}
}
