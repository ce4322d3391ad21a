package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/storage"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// Adapter serves the session broker over HTTP.
// It routes requests to the broker and serializes results.
type Adapter struct {
	broker transport.SessionBroker
	store  transport.ExchangeStore // nil if history is disabled
	ready  func(ctx context.Context) error
	subs   subscriptions
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// EventBuffer is the number of events buffered per subscriber.
	EventBuffer int

	// KeepAlive is the interval of SSE keep-alive comments; zero disables them.
	KeepAlive time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		EventBuffer: 64,
		KeepAlive:   15 * time.Second,
	}
}

// NewAdapter creates an HTTP adapter for the broker. The ExchangeStore is
// optional; when nil, exchange endpoints report that history is not
// available. ready backs /readyz and may be nil.
func NewAdapter(broker transport.SessionBroker, store transport.ExchangeStore, ready func(context.Context) error, cfg Config) *Adapter {
	a := &Adapter{
		broker: broker,
		store:  store,
		ready:  ready,
		mux:    http.NewServeMux(),
		config: cfg,
	}

	a.mux.HandleFunc("GET /v1/availability", a.handleAvailability)
	a.mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/prewarm", a.handlePrewarm)
	a.mux.HandleFunc("POST /v1/sessions/{id}/prompt", a.handlePrompt)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDisposeSession)
	a.mux.HandleFunc("GET /v1/sessions/{id}/exchanges", a.handleListExchanges)
	a.mux.HandleFunc("POST /v1/streams", a.handleStartStream)
	a.mux.HandleFunc("GET /v1/streams/events", a.handleEvents)
	a.mux.HandleFunc("DELETE /v1/streams/{id}", a.handleStopStream)
	a.mux.HandleFunc("GET /v1/exchanges/{id}", a.handleGetExchange)
	a.mux.HandleFunc("DELETE /v1/exchanges/{id}", a.handleDeleteExchange)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)

	return a
}

// Handle registers an additional handler on the adapter's mux, e.g. the
// metrics endpoint.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// CloseSubscribers ends the event channel connection so that a graceful
// shutdown does not wait on it.
func (a *Adapter) CloseSubscribers() {
	a.subs.closeAll()
}

// handleAvailability handles GET /v1/availability.
func (a *Adapter) handleAvailability(w http.ResponseWriter, r *http.Request) {
	resp, err := a.broker.CheckAvailability(r.Context())
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateSession handles POST /v1/sessions.
func (a *Adapter) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.SessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.broker.CreateSession(r.Context(), &req); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePrewarm handles POST /v1/sessions/{id}/prewarm.
func (a *Adapter) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	if err := a.broker.PrewarmSession(r.Context(), r.PathValue("id")); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePrompt handles POST /v1/sessions/{id}/prompt.
func (a *Adapter) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	resp, err := a.broker.SendPrompt(r.Context(), &req)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDisposeSession handles DELETE /v1/sessions/{id}.
func (a *Adapter) handleDisposeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.broker.DisposeSession(r.Context(), r.PathValue("id")); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartStream handles POST /v1/streams. Output arrives on the event
// channel; the response only confirms the stream was registered.
func (a *Adapter) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req api.StreamRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.broker.StartStream(r.Context(), &req); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStopStream handles DELETE /v1/streams/{id}.
func (a *Adapter) handleStopStream(w http.ResponseWriter, r *http.Request) {
	if err := a.broker.StopStream(r.Context(), r.PathValue("id")); err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListExchanges handles GET /v1/sessions/{id}/exchanges.
func (a *Adapter) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, "exchange listing") {
		return
	}

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	result, err := a.store.ListExchanges(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		transport.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetExchange handles GET /v1/exchanges/{id}.
func (a *Adapter) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, "exchange retrieval") {
		return
	}

	id := r.PathValue("id")
	if !api.ValidateExchangeID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed exchange ID"))
		return
	}

	ex, err := a.store.GetExchange(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// handleDeleteExchange handles DELETE /v1/exchanges/{id}.
func (a *Adapter) handleDeleteExchange(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, "exchange deletion") {
		return
	}

	id := r.PathValue("id")
	if !api.ValidateExchangeID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed exchange ID"))
		return
	}

	if err := a.store.DeleteExchange(r.Context(), id); err != nil {
		writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleReady handles GET /readyz.
func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			transport.WriteErrorResponse(w, api.NewUnavailableError(err.Error()), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// decode reads a JSON request body into v. It writes the error response
// and returns false when the body is unacceptable.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func (a *Adapter) requireStore(w http.ResponseWriter, what string) bool {
	if a.store != nil {
		return true
	}
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("", what+" is not available (no store configured)"),
		http.StatusNotImplemented,
	)
	return false
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

func writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("exchange "+id+" not found"))
		return
	}
	transport.WriteAPIError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
