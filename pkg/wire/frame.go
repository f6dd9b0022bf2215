package wire

import (
	"encoding/json"
)

// FrameType distinguishes the three frame kinds.
type FrameType string

const (
	// FrameTypeRequest is a correlated request frame.
	FrameTypeRequest FrameType = "req"

	// FrameTypeResponse is a response to a request frame.
	FrameTypeResponse FrameType = "res"

	// FrameTypeEvent is an uncorrelated server push frame.
	FrameTypeEvent FrameType = "event"
)

// Methods used by the gateway client.
const (
	// MethodConnect performs the authentication handshake.
	MethodConnect = "connect"

	// MethodAgent submits a task payload to an agent.
	MethodAgent = "agent"
)

// EventChallenge is sent by the gateway before the client authenticates.
// Its payload carries a nonce the client must include in the signed
// connect payload.
const EventChallenge = "connect.challenge"

// Request is a correlated request frame.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a response frame. ID matches the request it answers.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries the server-side failure description on a res frame.
type ErrorDetail struct {
	Message string `json:"message"`
}

// ErrorMessage returns the server error message, or a fallback when the
// response carries no detail.
func (r *Response) ErrorMessage(fallback string) string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return fallback
}

// Event is an uncorrelated server push frame.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChallengePayload is the payload of a connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// AcceptedStatus is the payload status value marking an interim
// acknowledgment in a two-phase response sequence.
const AcceptedStatus = "accepted"

// IsAcceptedPayload reports whether a response payload is a two-phase
// interim acknowledgment: a JSON object whose status field reads
// "accepted". Anything else, including unparsable payloads, is final.
func IsAcceptedPayload(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.Status == AcceptedStatus
}
