package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/auth"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/observability"
	"github.com/rhuss/lmbroker/pkg/platform"
	"github.com/rhuss/lmbroker/pkg/provider"
	"github.com/rhuss/lmbroker/pkg/security"
	"github.com/rhuss/lmbroker/pkg/storage"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// recordTimeout bounds the exchange write of a completed stream.
var recordTimeout = 5 * time.Second

// Config holds the broker's collaborators. Zero values select defaults.
type Config struct {
	// Validator screens every prompt. Defaults to security.Permissive.
	Validator security.Validator

	// Gate reports whether the host platform can run the engine. Defaults
	// to a gate that accepts every platform.
	Gate platform.Gate

	// Store records completed exchanges. Nil disables history.
	Store transport.ExchangeStore

	// QueueSize bounds undelivered stream events.
	QueueSize int

	// Validation limits request ids and instructions.
	Validation api.ValidationConfig
}

// Broker implements transport.SessionBroker on top of a provider.
type Broker struct {
	provider  provider.Provider
	registry  *Registry
	coord     *Coordinator
	validator security.Validator
	gate      platform.Gate
	store     transport.ExchangeStore
	limits    api.ValidationConfig
}

var _ transport.SessionBroker = (*Broker)(nil)

// New creates a broker for provider p.
func New(p provider.Provider, cfg Config) (*Broker, error) {
	if p == nil {
		return nil, errors.New("broker: provider is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = security.Permissive{}
	}
	if cfg.Gate == nil {
		cfg.Gate = platform.NewHost(nil)
	}
	if cfg.Validation.MaxIDLength == 0 {
		cfg.Validation = api.DefaultValidationConfig()
	}
	return &Broker{
		provider:  p,
		registry:  NewRegistry(p),
		coord:     NewCoordinator(cfg.QueueSize),
		validator: cfg.Validator,
		gate:      cfg.Gate,
		store:     cfg.Store,
		limits:    cfg.Validation,
	}, nil
}

// CheckAvailability reports engine availability. An unsupported platform
// and an unavailable model are results, not errors.
func (b *Broker) CheckAvailability(ctx context.Context) (*api.AvailabilityResponse, error) {
	resp := &api.AvailabilityResponse{OSVersion: b.gate.Version()}

	if !b.gate.IsSupported() {
		resp.ReasonCode = api.Optional("platform_too_old")
		resp.ErrorMessage = api.Optional(platform.Message(b.gate))
		return resp, nil
	}

	avail, err := b.provider.Availability(ctx)
	if err != nil {
		return nil, SanitizeError(err)
	}
	resp.IsAvailable = avail.Available
	if !avail.Available {
		resp.ReasonCode = api.Optional(string(avail.Reason))
		resp.ErrorMessage = api.Optional(avail.Reason.Message())
	}
	return resp, nil
}

// CreateSession creates or replaces the session named in req.
func (b *Broker) CreateSession(ctx context.Context, req *api.SessionRequest) error {
	if err := b.checkPlatform(); err != nil {
		return err
	}
	if apiErr := api.ValidateSessionRequest(req, b.limits); apiErr != nil {
		return apiErr
	}

	start := time.Now()
	_, err := b.registry.Create(ctx, req.SessionID, req.Instructions, req.GuardrailLevel)
	b.observe("create_session", start, err)
	if err != nil {
		return SanitizeError(err)
	}

	level := api.GuardrailPermissive
	if req.GuardrailLevel != nil && *req.GuardrailLevel != "" {
		level = *req.GuardrailLevel
	}
	slog.Info("session created", "session_id", req.SessionID, "guardrails", level, "caller", auth.Subject(ctx))
	return nil
}

// PrewarmSession asks the engine to warm up an existing session.
func (b *Broker) PrewarmSession(ctx context.Context, sessionID string) error {
	if err := b.checkPlatform(); err != nil {
		return err
	}
	sess, ok := b.registry.Get(sessionID)
	if !ok {
		return api.NewSessionNotFoundError()
	}
	if err := sess.Prewarm(ctx); err != nil {
		return SanitizeError(err)
	}
	debug.Log(debug.Broker, "session prewarmed", "session_id", sessionID)
	return nil
}

// SendPrompt generates a complete response on an existing session.
func (b *Broker) SendPrompt(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	if err := b.checkPlatform(); err != nil {
		return nil, err
	}
	if apiErr := api.ValidateChatRequest(req, b.limits); apiErr != nil {
		return nil, apiErr
	}
	if err := b.validator.ValidatePrompt(req.Prompt); err != nil {
		return nil, err
	}

	sess, ok := b.registry.Get(req.SessionID)
	if !ok {
		return nil, api.NewSessionNotFoundError()
	}

	start := time.Now()
	resp, err := sess.Respond(ctx, req.Prompt, TranslateOptions(req.Options))
	b.observe("respond", start, err)
	if err != nil {
		return nil, SanitizeError(err)
	}
	b.countTokens(resp.Usage)

	out := &api.ChatResponse{
		Content:           resp.Content,
		RawContent:        resp.RawContent,
		TranscriptEntries: MapTranscript(resp.Transcript),
	}

	b.record(ctx, &api.Exchange{
		SessionID:         req.SessionID,
		Prompt:            req.Prompt,
		Content:           out.Content,
		TranscriptEntries: out.TranscriptEntries,
	})
	return out, nil
}

// DisposeSession drops a session. Streams running on it keep running.
func (b *Broker) DisposeSession(ctx context.Context, sessionID string) error {
	if err := b.checkPlatform(); err != nil {
		return err
	}
	b.registry.Remove(sessionID)
	slog.Info("session disposed", "session_id", sessionID, "caller", auth.Subject(ctx))
	return nil
}

// StartStream starts a streaming generation, replacing any stream running
// under the same id. Generation failures are delivered as final events.
func (b *Broker) StartStream(ctx context.Context, req *api.StreamRequest) error {
	if err := b.checkPlatform(); err != nil {
		return err
	}
	if apiErr := api.ValidateStreamRequest(req, b.limits); apiErr != nil {
		return apiErr
	}
	if err := b.coord.Stop(ctx, req.StreamID); err != nil {
		return err
	}
	if err := b.validator.ValidatePrompt(req.Prompt); err != nil {
		return err
	}

	sess, ok := b.registry.Get(req.SessionID)
	if !ok {
		return api.NewSessionNotFoundError()
	}

	opts := TranslateOptions(req.Options)
	generate := func(ctx context.Context) (<-chan provider.Snapshot, error) {
		return sess.StreamResponse(ctx, req.Prompt, opts)
	}

	values := context.WithoutCancel(ctx)
	seen := len(sess.Transcript())
	onComplete := func(content string) {
		var added []provider.TranscriptEntry
		if t := sess.Transcript(); len(t) > seen {
			added = t[seen:]
		}
		// The final event waits for this write.
		rctx, cancel := context.WithTimeout(values, recordTimeout)
		defer cancel()
		b.record(rctx, &api.Exchange{
			SessionID:         req.SessionID,
			StreamID:          req.StreamID,
			Prompt:            req.Prompt,
			Content:           content,
			TranscriptEntries: MapTranscript(added),
		})
	}

	if err := b.coord.Launch(ctx, req.StreamID, generate, onComplete); err != nil {
		return err
	}
	debug.Log(debug.Streaming, "stream started", "stream_id", req.StreamID, "session_id", req.SessionID, "caller", auth.Subject(ctx))
	return nil
}

// StopStream cancels a stream and waits for its final event. It never
// touches the engine, so it is not gated on the platform.
func (b *Broker) StopStream(ctx context.Context, streamID string) error {
	return b.coord.Stop(ctx, streamID)
}

// AttachSink installs the event sink.
func (b *Broker) AttachSink(sink transport.EventSink) {
	b.coord.Attach(sink)
}

// DetachSink removes sink and cancels all streams when it is attached.
func (b *Broker) DetachSink(sink transport.EventSink) {
	b.coord.Detach(sink)
}

// Ready reports whether the engine is available and the store is healthy.
func (b *Broker) Ready(ctx context.Context) error {
	if !b.gate.IsSupported() {
		return api.NewPlatformTooOldError()
	}
	avail, err := b.provider.Availability(ctx)
	if err != nil {
		return SanitizeError(err)
	}
	if !avail.Available {
		return api.NewUnavailableError(avail.Reason.Message())
	}
	if b.store != nil {
		if err := b.store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("exchange store: %w", err)
		}
	}
	return nil
}

// Close cancels every stream and waits for them until ctx expires, then
// releases the provider.
func (b *Broker) Close(ctx context.Context) error {
	err := b.coord.Close(ctx)
	if cerr := b.provider.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (b *Broker) checkPlatform() error {
	if !b.gate.IsSupported() {
		return api.NewPlatformTooOldError()
	}
	return nil
}

func (b *Broker) record(ctx context.Context, ex *api.Exchange) {
	if b.store == nil {
		return
	}
	ex.ID = api.NewExchangeID()
	ex.CreatedAt = time.Now().UTC()
	if err := b.store.SaveExchange(ctx, ex); err != nil {
		slog.Warn("failed to record exchange", "exchange_id", ex.ID, "session_id", ex.SessionID, "error", err)
		return
	}
	debug.Log(debug.Storage, "exchange recorded", "exchange_id", ex.ID, "session_id", ex.SessionID, "tenant", storage.ScopeFrom(ctx).Tenant)
}

func (b *Broker) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	name := b.provider.Name()
	observability.ProviderRequestsTotal.WithLabelValues(name, operation, status).Inc()
	observability.ProviderLatency.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())
}

func (b *Broker) countTokens(u provider.Usage) {
	name := b.provider.Name()
	if u.InputTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(name, "input").Add(float64(u.InputTokens))
	}
	if u.OutputTokens > 0 {
		observability.ProviderTokensTotal.WithLabelValues(name, "output").Add(float64(u.OutputTokens))
	}
}
