package transport

import (
	"context"
	"net"
)

// Conn is a framed duplex connection to a gateway.
//
// ReadFrame is intended for a single reader goroutine; WriteFrame may be
// called concurrently.
type Conn interface {
	// ReadFrame reads the next frame, without its line terminator.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one frame. The payload must not contain the
	// line terminator.
	WriteFrame(data []byte) error

	// Close tears down the connection. Blocked reads and writes fail.
	Close() error

	// RemoteAddr returns the peer address, or nil if not applicable.
	RemoteAddr() net.Addr
}

// Dialer opens connections to a gateway URL. Injecting a Dialer keeps the
// client transport-agnostic.
type Dialer interface {
	// DialContext opens a framed connection to the given gateway URL.
	// The context bounds connection establishment only.
	DialContext(ctx context.Context, rawURL string) (Conn, error)
}
