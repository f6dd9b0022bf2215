// Package identity manages the device identity a gateway client uses to
// prove possession across connections.
//
// A device identity is an Ed25519 keypair plus an ID derived by hashing
// the raw public key. Identities and any operator token issued by the
// gateway are persisted together in a single versioned JSON state file.
// Loss or corruption of that file is never fatal: the client simply
// re-authenticates and a fresh identity can be generated on demand.
//
// The package also implements the connect-payload signer. Two payload
// versions exist: v1 covers connect attempts where the gateway never
// issued a challenge, v2 additionally binds a server nonce. The version
// tag is part of the signed bytes, so the two variants never
// cross-validate.
package identity
