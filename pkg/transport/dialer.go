package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Dialer errors.
var (
	// ErrUnsupportedScheme indicates a gateway URL with a scheme other
	// than tcp or tls.
	ErrUnsupportedScheme = errors.New("unsupported gateway URL scheme")

	// ErrMissingPort indicates a gateway URL without an explicit port.
	ErrMissingPort = errors.New("gateway URL has no port")
)

// Gateway URL schemes.
const (
	// SchemeTCP is a plaintext connection (development only).
	SchemeTCP = "tcp"

	// SchemeTLS is a TLS connection.
	SchemeTLS = "tls"
)

// NetDialerConfig configures a NetDialer.
type NetDialerConfig struct {
	// TLSConfig is used for tls:// URLs. Nil selects a default config;
	// ServerName is filled in from the URL host when unset.
	TLSConfig *tls.Config

	// DialTimeout bounds connection establishment when the caller's
	// context carries no deadline (default: 10s).
	DialTimeout time.Duration

	// MaxFrameSize caps inbound and outbound frames
	// (default: DefaultMaxFrameSize).
	MaxFrameSize int
}

// NetDialer opens tcp:// and tls:// gateway URLs over the network.
type NetDialer struct {
	config NetDialerConfig
}

// NewNetDialer creates a network dialer.
func NewNetDialer(config NetDialerConfig) *NetDialer {
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	return &NetDialer{config: config}
}

// DialContext opens a framed connection to the gateway URL.
func (d *NetDialer) DialContext(ctx context.Context, rawURL string) (Conn, error) {
	scheme, host, err := ParseGatewayURL(rawURL)
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.DialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if scheme == SchemeTLS {
		tlsConf := d.config.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			tlsConf = tlsConf.Clone()
		}
		if tlsConf.ServerName == "" {
			serverName, _, splitErr := net.SplitHostPort(host)
			if splitErr == nil {
				tlsConf.ServerName = serverName
			}
		}

		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	return NewLineConnWithMaxSize(conn, d.config.MaxFrameSize), nil
}

// ParseGatewayURL validates a gateway URL and returns its scheme and
// host:port.
func ParseGatewayURL(rawURL string) (scheme, host string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid gateway URL: %w", err)
	}

	switch u.Scheme {
	case SchemeTCP, SchemeTLS:
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Port() == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMissingPort, rawURL)
	}

	return u.Scheme, u.Host, nil
}

// Compile-time interface satisfaction check.
var _ Dialer = (*NetDialer)(nil)
