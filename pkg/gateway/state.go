package gateway

// State is the connection lifecycle state.
type State int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected State = iota

	// StateConnecting indicates the socket is being opened.
	StateConnecting

	// StateAwaitingChallenge indicates the socket is open and the
	// client is waiting briefly for a connect.challenge event.
	StateAwaitingChallenge

	// StateAuthenticating indicates the connect request has been sent.
	StateAuthenticating

	// StateReady indicates an authenticated connection accepting
	// requests.
	StateReady

	// StateClosed indicates the client has been shut down for good.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingChallenge:
		return "AWAITING_CHALLENGE"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
