// Package transport defines the handler interfaces and middleware chain for
// the lmbroker HTTP/SSE transport layer.
//
// The transport layer bridges external clients and the session broker. It
// deserializes incoming requests into the types defined in pkg/api,
// dispatches them to a SessionBroker, and serializes results back to the
// client as JSON or, for stream output, as server-sent events.
//
// # Handler Interfaces
//
//   - SessionBroker handles session, prompt and stream operations.
//   - EventSink receives stream events for delivery to the single
//     connected event channel subscriber.
//   - ExchangeStore persists completed exchanges, available only when
//     history is configured.
//
// # Middleware
//
// Middleware wraps http.Handler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured access logging via log/slog.
//
// # Errors
//
// HTTPStatusFromError maps the api error vocabulary onto HTTP status codes;
// WriteAPIError serializes any error as {"error": {...}}.
package transport
