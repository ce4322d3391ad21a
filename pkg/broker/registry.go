package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/observability"
	"github.com/rhuss/lmbroker/pkg/provider"
)

// Registry owns the engine sessions, keyed by caller-chosen session id.
// It is the only holder of session handles; callers borrow a session for
// the duration of one operation.
type Registry struct {
	provider provider.Provider

	mu       sync.RWMutex
	sessions map[string]provider.Session
}

// NewRegistry creates an empty registry creating sessions on p.
func NewRegistry(p provider.Provider) *Registry {
	return &Registry{
		provider: p,
		sessions: make(map[string]provider.Session),
	}
}

// Create checks engine availability, builds a session with the guardrails
// of level and stores it under id, replacing any existing session.
// Engine errors are returned unsanitized.
func (r *Registry) Create(ctx context.Context, id, instructions string, level *api.GuardrailLevel) (provider.Session, error) {
	avail, err := r.provider.Availability(ctx)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, api.NewUnavailableError(avail.Reason.Message())
	}

	cfg, err := ResolveGuardrails(level)
	if err != nil {
		return nil, err
	}

	sess, err := r.provider.CreateSession(ctx, instructions, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	n := len(r.sessions)
	r.mu.Unlock()

	observability.SessionsActive.Set(float64(n))
	return sess, nil
}

// Get returns the session stored under id.
func (r *Registry) Get(id string) (provider.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove drops the session stored under id. Removing an unknown id is a no-op.
// Streams already running on the session are not affected.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	observability.SessionsActive.Set(float64(n))
}

// Len returns the number of stored sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ResolveGuardrails maps a guardrail level to an engine model configuration.
// An absent or empty level is permissive.
func ResolveGuardrails(level *api.GuardrailLevel) (provider.ModelConfig, error) {
	if level == nil {
		return permissiveConfig(), nil
	}
	switch *level {
	case "", api.GuardrailPermissive:
		return permissiveConfig(), nil
	case api.GuardrailStrict:
		return provider.ModelConfig{
			UseCase:    provider.UseCaseGeneral,
			Guardrails: provider.GuardrailsDefault,
		}, nil
	case api.GuardrailStandard:
		return provider.DefaultModelConfig(), nil
	default:
		return provider.ModelConfig{}, api.NewRequestFailedError(fmt.Sprintf("Unknown guardrail level: %s", *level))
	}
}

func permissiveConfig() provider.ModelConfig {
	return provider.ModelConfig{
		UseCase:    provider.UseCaseGeneral,
		Guardrails: provider.GuardrailsPermissiveContentTransformations,
	}
}
