// Package log captures protocol-level events from a gateway connection.
//
// Events are structured records rather than text lines: each one carries
// the connection ID, direction, and a type-specific payload (a raw frame,
// a state change, or an error). Applications choose a sink by passing a
// Logger implementation to the client:
//
//   - FileLogger appends CBOR-encoded events to a capture file
//   - SlogAdapter forwards events to a standard library slog.Logger
//   - MultiLogger fans out to several sinks at once
//   - NoopLogger (or nil) disables capture entirely
//
// The CBOR capture format uses integer keys and nanosecond timestamps so
// a full session can be recorded cheaply and replayed later.
package log
