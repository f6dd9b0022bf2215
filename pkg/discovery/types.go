package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// mDNS service constants.
const (
	// ServiceType is the DNS-SD service type gateways advertise.
	ServiceType = "_agentwire._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default gateway port.
	DefaultPort = 9100
)

// TXT record keys.
const (
	// TXTKeyProtocol is the highest protocol version the gateway speaks.
	TXTKeyProtocol = "proto"

	// TXTKeyName is the gateway's display name.
	TXTKeyName = "name"

	// TXTKeyFingerprint is a prefix of the gateway identity fingerprint.
	TXTKeyFingerprint = "fp"

	// TXTKeyTLS marks endpoints that expect TLS ("1").
	TXTKeyTLS = "tls"
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// FingerprintPrefixLen is how many hex characters of the identity
	// fingerprint go into the TXT record.
	FingerprintPrefixLen = 16
)

// BrowseTimeout is the default timeout for mDNS browsing.
const BrowseTimeout = 10 * time.Second

// Discovery errors.
var (
	ErrMissingRequired = errors.New("missing required TXT field")
	ErrInvalidTXT      = errors.New("invalid TXT record")
	ErrNotFound        = errors.New("gateway not found")
)

// GatewayService is a gateway found via mDNS.
type GatewayService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the gateway port.
	Port uint16

	// Addresses are the resolved IP addresses.
	Addresses []string

	// Protocol is the highest protocol version the gateway speaks.
	Protocol int

	// Name is the gateway display name, when advertised.
	Name string

	// Fingerprint is the advertised identity fingerprint prefix.
	Fingerprint string

	// TLS reports whether the endpoint expects TLS.
	TLS bool
}

// URL returns the dialable gateway URL for this service.
func (g *GatewayService) URL() string {
	scheme := "tcp"
	if g.TLS {
		scheme = "tls"
	}
	host := g.Host
	if len(g.Addresses) > 0 {
		host = g.Addresses[0]
	}
	// JoinHostPort brackets IPv6 literals so the URL stays dialable.
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(int(g.Port))))
}

// GatewayInfo describes a gateway to advertise.
type GatewayInfo struct {
	// Name is the display name; it doubles as the instance name.
	Name string

	// Fingerprint is the gateway identity fingerprint. Only a prefix is
	// advertised.
	Fingerprint string

	// Port is the service port. Zero selects DefaultPort.
	Port uint16

	// TLS marks the endpoint as expecting TLS.
	TLS bool
}
