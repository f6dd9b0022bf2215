// Package version pins the protocol and client versions this library
// implements.
package version

// Protocol version range offered in a connect request. The gateway picks
// any version inside the overlap with its own range.
const (
	// ProtocolMin is the oldest protocol version this client speaks.
	ProtocolMin = 1

	// ProtocolMax is the newest protocol version this client speaks.
	ProtocolMax = 1
)

// Client is the client library version reported in the connect
// descriptor.
const Client = "0.3.0"

// InRange reports whether a gateway-selected protocol version is one
// this client speaks.
func InRange(v int) bool {
	return v >= ProtocolMin && v <= ProtocolMax
}
