package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeDecodeRequest(t *testing.T) {
	req := &Request{
		ID:     "req-1",
		Method: MethodAgent,
		Params: json.RawMessage(`{"message":"hi"}`),
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, ok := decoded.(*Request)
	if !ok {
		t.Fatalf("expected *Request, got %T", decoded)
	}
	if got.ID != req.ID || got.Method != req.Method {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if string(got.Params) != string(req.Params) {
		t.Errorf("params mismatch: got %s", got.Params)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantMsg string
	}{
		{
			name:   "success with payload",
			line:   `{"type":"res","id":"a","ok":true,"payload":{"status":"ok"}}`,
			wantOK: true,
		},
		{
			name:    "failure with error detail",
			line:    `{"type":"res","id":"a","ok":false,"error":{"message":"bad token"}}`,
			wantOK:  false,
			wantMsg: "bad token",
		},
		{
			name:   "failure without detail",
			line:   `{"type":"res","id":"a","ok":false}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode([]byte(tt.line))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			res, ok := decoded.(*Response)
			if !ok {
				t.Fatalf("expected *Response, got %T", decoded)
			}
			if res.OK != tt.wantOK {
				t.Errorf("ok = %v, want %v", res.OK, tt.wantOK)
			}
			if got := res.ErrorMessage("fallback"); tt.wantMsg != "" && got != tt.wantMsg {
				t.Errorf("error message = %q, want %q", got, tt.wantMsg)
			}
			if tt.wantMsg == "" && !res.OK && res.ErrorMessage("fallback") != "fallback" {
				t.Errorf("expected fallback error message")
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"event","event":"connect.challenge","payload":{"nonce":"abc"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	ev, ok := decoded.(*Event)
	if !ok {
		t.Fatalf("expected *Event, got %T", decoded)
	}
	if ev.Event != EventChallenge {
		t.Errorf("event = %q, want %q", ev.Event, EventChallenge)
	}

	var challenge ChallengePayload
	if err := json.Unmarshal(ev.Payload, &challenge); err != nil {
		t.Fatalf("challenge payload decode failed: %v", err)
	}
	if challenge.Nonce != "abc" {
		t.Errorf("nonce = %q, want abc", challenge.Nonce)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"not json", `{{{`, nil},
		{"unknown type", `{"type":"nope"}`, ErrUnknownFrameType},
		{"req without id", `{"type":"req","method":"agent"}`, ErrMissingID},
		{"res without id", `{"type":"res","ok":true}`, ErrMissingID},
		{"event without name", `{"type":"event"}`, ErrMissingEvent},
		{"missing type", `{"id":"x"}`, ErrUnknownFrameType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.line))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsAcceptedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"accepted", `{"status":"accepted"}`, true},
		{"final ok", `{"status":"ok","result":"hello"}`, false},
		{"no status field", `{"result":42}`, false},
		{"empty payload", ``, false},
		{"non-object payload", `"accepted"`, false},
		{"null payload", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAcceptedPayload(json.RawMessage(tt.payload)); got != tt.want {
				t.Errorf("IsAcceptedPayload(%s) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}
