// Package discovery finds AgentWire gateways on the local network via
// mDNS/DNS-SD.
//
// Gateways advertise a _agentwire._tcp service whose TXT records carry
// the protocol version, a display name, the gateway identity fingerprint
// and whether the endpoint expects TLS. Clients browse for these records
// and turn them into dialable gateway URLs.
package discovery
