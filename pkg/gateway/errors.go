package gateway

import (
	"errors"
	"fmt"
)

// Client errors. All of them are recoverable: callers may simply retry
// EnsureConnected or Request.
var (
	// ErrConnectTimeout indicates the handshake exceeded its deadline.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrConnectRejected indicates the gateway answered the connect
	// request with ok:false.
	ErrConnectRejected = errors.New("connect rejected")

	// ErrSocketError indicates a transport-level failure.
	ErrSocketError = errors.New("socket error")

	// ErrSocketClosed indicates the connection closed while requests
	// were pending; every pending request is rejected with it.
	ErrSocketClosed = errors.New("socket closed")

	// ErrRequestTimeout indicates a request's deadline elapsed with no
	// final response.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNotConnected indicates a request was issued without a Ready
	// connection. Requests are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrClientClosed indicates use of a closed client.
	ErrClientClosed = errors.New("client closed")
)

// Error represents an ok:false response to an application request,
// carrying the gateway's error message.
type Error struct {
	Method  string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error on %s", e.Method)
	}
	return fmt.Sprintf("gateway error on %s: %s", e.Method, e.Message)
}
