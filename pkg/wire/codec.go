package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrUnknownFrameType indicates a frame with a missing or
	// unrecognized type tag.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrMissingID indicates a req or res frame without a correlation ID.
	ErrMissingID = errors.New("frame has no id")

	// ErrMissingEvent indicates an event frame without an event name.
	ErrMissingEvent = errors.New("event frame has no name")
)

// envelope is the superset of all frame fields, used for decoding.
type envelope struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// EncodeRequest encodes a request frame as a JSON object.
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(envelope{
		Type:   FrameTypeRequest,
		ID:     req.ID,
		Method: req.Method,
		Params: req.Params,
	})
}

// EncodeResponse encodes a response frame as a JSON object.
func EncodeResponse(res *Response) ([]byte, error) {
	return json.Marshal(struct {
		Type    FrameType       `json:"type"`
		ID      string          `json:"id"`
		OK      bool            `json:"ok"`
		Payload json.RawMessage `json:"payload,omitempty"`
		Error   *ErrorDetail    `json:"error,omitempty"`
	}{FrameTypeResponse, res.ID, res.OK, res.Payload, res.Error})
}

// EncodeEvent encodes an event frame as a JSON object.
func EncodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal(envelope{
		Type:    FrameTypeEvent,
		Event:   ev.Event,
		Payload: ev.Payload,
	})
}

// Decode parses one frame. It returns exactly one of *Request, *Response
// or *Event.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("frame decode failed: %w", err)
	}

	switch env.Type {
	case FrameTypeRequest:
		if env.ID == "" {
			return nil, ErrMissingID
		}
		return &Request{ID: env.ID, Method: env.Method, Params: env.Params}, nil

	case FrameTypeResponse:
		if env.ID == "" {
			return nil, ErrMissingID
		}
		return &Response{ID: env.ID, OK: env.OK, Payload: env.Payload, Error: env.Error}, nil

	case FrameTypeEvent:
		if env.Event == "" {
			return nil, ErrMissingEvent
		}
		return &Event{Event: env.Event, Payload: env.Payload}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}
