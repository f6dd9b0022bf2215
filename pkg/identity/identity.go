package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Key material errors.
var (
	// ErrIncompleteIdentity indicates an identity missing its ID or one
	// of its keys.
	ErrIncompleteIdentity = errors.New("incomplete device identity")

	// ErrInvalidKey indicates key material that failed to decode.
	ErrInvalidKey = errors.New("invalid key material")
)

// keyEncoding is the transport encoding for key material and signatures:
// URL-safe base64 without padding.
var keyEncoding = base64.RawURLEncoding

// DeviceIdentity is an Ed25519 keypair plus a public-key-derived ID.
// The public key is stored raw, without any algorithm-identifier prefix,
// so the wire representation is exactly the 32 key bytes.
// Immutable once created.
type DeviceIdentity struct {
	// ID is the hex SHA-256 fingerprint of the raw public key.
	ID string `json:"id"`

	// PublicKey is the raw Ed25519 public key, base64url without padding.
	PublicKey string `json:"publicKey"`

	// PrivateKey is the Ed25519 private key, base64url without padding.
	PrivateKey string `json:"privateKey"`
}

// Generate creates a new device identity with a fresh Ed25519 keypair.
func Generate() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keypair generation failed: %w", err)
	}

	return &DeviceIdentity{
		ID:         Fingerprint(pub),
		PublicKey:  keyEncoding.EncodeToString(pub),
		PrivateKey: keyEncoding.EncodeToString(priv),
	}, nil
}

// Fingerprint derives the device ID from raw public key bytes.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Complete reports whether the identity carries everything needed to sign
// a connect attempt.
func (d *DeviceIdentity) Complete() bool {
	return d != nil && d.ID != "" && d.PublicKey != "" && d.PrivateKey != ""
}

// signingKey decodes the private key for signing.
func (d *DeviceIdentity) signingKey() (ed25519.PrivateKey, error) {
	if !d.Complete() {
		return nil, ErrIncompleteIdentity
	}
	raw, err := keyEncoding.DecodeString(d.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKey, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// publicKeyBytes decodes an encoded public key.
func publicKeyBytes(encoded string) (ed25519.PublicKey, error) {
	raw, err := keyEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
