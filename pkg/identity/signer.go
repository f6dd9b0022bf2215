package identity

import (
	"crypto/ed25519"
	"strconv"
	"strings"
	"time"
)

// Signing payload version tags. The tag leads the signed bytes, so a v1
// signature can never validate against a v2 payload or vice versa.
const (
	// PayloadVersionPlain covers connect attempts where the gateway
	// issued no challenge. A valid, if weaker, proof of possession for
	// deployments that never send one.
	PayloadVersionPlain = "v1"

	// PayloadVersionNonce additionally binds a server-issued nonce to
	// prevent replay.
	PayloadVersionNonce = "v2"
)

// payloadDelimiter separates fields of the signing payload.
const payloadDelimiter = "|"

// SignRequest describes one connect attempt to be signed.
type SignRequest struct {
	// DeviceID is the device identity fingerprint.
	DeviceID string

	// ClientID identifies the connecting client instance.
	ClientID string

	// Mode is the client mode (e.g. "operator").
	Mode string

	// Role is the requested role.
	Role string

	// Scopes are the requested scopes, in request order.
	Scopes []string

	// SignedAt is the wall-clock signing time. It is part of the signed
	// bytes to bound replay.
	SignedAt time.Time

	// Token is the bearer token, empty when none is configured.
	Token string

	// Nonce is the server challenge nonce; empty selects the v1 payload.
	Nonce string
}

// SigningPayload builds the canonical bytes to sign: fields joined by a
// fixed delimiter in a fixed order. With a nonce present the version tag
// switches and the nonce is appended as a final field.
func SigningPayload(req SignRequest) []byte {
	fields := []string{
		PayloadVersionPlain,
		req.DeviceID,
		req.ClientID,
		req.Mode,
		req.Role,
		strings.Join(req.Scopes, ","),
		strconv.FormatInt(req.SignedAt.UnixMilli(), 10),
		req.Token,
	}
	if req.Nonce != "" {
		fields[0] = PayloadVersionNonce
		fields = append(fields, req.Nonce)
	}
	return []byte(strings.Join(fields, payloadDelimiter))
}

// Sign produces a signature over payload with the device private key,
// encoded as URL-safe base64 without padding.
func Sign(id *DeviceIdentity, payload []byte) (string, error) {
	key, err := id.signingKey()
	if err != nil {
		return "", err
	}
	return keyEncoding.EncodeToString(ed25519.Sign(key, payload)), nil
}

// Verify checks a signature against an encoded public key.
// Used by tests and by gateway implementations.
func Verify(publicKey string, payload []byte, signature string) bool {
	pub, err := publicKeyBytes(publicKey)
	if err != nil {
		return false
	}
	sig, err := keyEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// DevicePayload is the signed device block of a connect request.
type DevicePayload struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// BuildDevicePayload signs a connect attempt and assembles the device
// block to embed in the connect request params.
func BuildDevicePayload(id *DeviceIdentity, req SignRequest) (*DevicePayload, error) {
	if !id.Complete() {
		return nil, ErrIncompleteIdentity
	}

	req.DeviceID = id.ID
	if req.SignedAt.IsZero() {
		req.SignedAt = time.Now()
	}

	sig, err := Sign(id, SigningPayload(req))
	if err != nil {
		return nil, err
	}

	return &DevicePayload{
		ID:        id.ID,
		PublicKey: id.PublicKey,
		Signature: sig,
		SignedAt:  req.SignedAt.UnixMilli(),
		Nonce:     req.Nonce,
	}, nil
}
