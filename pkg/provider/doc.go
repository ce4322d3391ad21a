// Package provider defines the interface the broker uses to reach a language
// model engine. An engine hands out stateful sessions; a session answers one
// prompt at a time, either as a complete response or as a finite sequence of
// cumulative snapshots. Each adapter (e.g., openaicompat) translates its
// backend protocol and failures into the types of this package, keeping
// backend details invisible to the broker.
package provider
