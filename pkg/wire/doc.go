// Package wire defines the AgentWire frame model and its line-delimited
// JSON encoding.
//
// Three frame kinds travel over a gateway connection:
//
//   - req:   a correlated request {id, method, params}
//   - res:   a response to a request {id, ok, payload, error}
//   - event: an uncorrelated server push {event, payload}
//
// Each frame is encoded as a single JSON object terminated by a newline.
// Decoding is lenient about unknown fields for forward compatibility, but
// strict about the fields that make a frame routable: a req or res without
// an id, or an event without a name, fails to decode. Callers are expected
// to drop undecodable frames rather than fail the connection.
package wire
