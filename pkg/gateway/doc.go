// Package gateway implements the AgentWire gateway client: a single
// duplex connection over which correlated requests are multiplexed.
//
// A Client owns the socket lifecycle and drives the state machine
//
//	Disconnected -> Connecting -> AwaitingChallenge -> Authenticating -> Ready
//
// EnsureConnected is idempotent and coalescing: concurrent callers share
// one in-flight handshake. The handshake authenticates with a signed
// device identity; when the gateway issues a connect.challenge first, the
// server nonce is bound into the signature, otherwise a short fallback
// timer fires and the unsigned-nonce variant is sent. Either way exactly
// one connect request leaves per attempt.
//
// The client never reconnects on its own. When the socket drops, every
// pending request is rejected with ErrSocketClosed and the next
// EnsureConnected call starts a fresh attempt, including a fresh
// challenge flow.
package gateway
