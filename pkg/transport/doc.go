// Package transport provides the duplex byte channel a gateway client
// multiplexes its frames over.
//
// The wire unit is a newline-terminated frame. LineConn adapts any
// net.Conn to that framing with a configurable frame-size cap. NetDialer
// opens tcp:// and tls:// gateway URLs; the Dialer interface exists so a
// client can be handed an in-memory transport in tests instead of a real
// socket.
package transport
