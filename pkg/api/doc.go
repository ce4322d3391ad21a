// Package api defines the wire types and the external error vocabulary of the
// lmbroker session broker.
//
// Core types:
//   - [SessionRequest], [ChatRequest], [StreamRequest]: inbound operations
//   - [ChatResponse]: result of a one-shot prompt
//   - [StreamEvent]: one event on the single outbound event channel
//   - [TranscriptEntry]: a flattened conversation transcript entry
//   - [APIError]: the stable, engine-detail-free error taxonomy
//
// The package performs no I/O. All types produce the camelCase JSON that the
// host application consumes.
package api
