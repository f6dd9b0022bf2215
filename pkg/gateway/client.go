package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire-protocol/agentwire-go/pkg/correlation"
	"github.com/agentwire-protocol/agentwire-go/pkg/identity"
	"github.com/agentwire-protocol/agentwire-go/pkg/log"
	"github.com/agentwire-protocol/agentwire-go/pkg/transport"
	"github.com/agentwire-protocol/agentwire-go/pkg/version"
	"github.com/agentwire-protocol/agentwire-go/pkg/wire"
)

// MaxLogFrameDataSize is the maximum frame data size to include in log
// events. Larger frames are truncated in the capture, not on the wire.
const MaxLogFrameDataSize = 4096

// EventHandler receives server events other than the connect challenge.
type EventHandler func(event string, payload json.RawMessage)

// StateChangeHandler receives connection state transitions.
type StateChangeHandler func(oldState, newState State)

// RequestOptions configures a single request.
type RequestOptions struct {
	// TwoPhase marks the request as two-phase: an interim "accepted"
	// acknowledgment keeps the call waiting for the final frame.
	TwoPhase bool

	// Timeout overrides the config's request timeout when positive.
	Timeout time.Duration
}

// connectAttempt coalesces concurrent EnsureConnected callers onto one
// in-flight handshake.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// connectParams is the connect request parameter block.
type connectParams struct {
	MinProtocol int                     `json:"minProtocol"`
	MaxProtocol int                     `json:"maxProtocol"`
	Client      clientDescriptor        `json:"client"`
	Role        string                  `json:"role"`
	Scopes      []string                `json:"scopes,omitempty"`
	Auth        *authBlock              `json:"auth,omitempty"`
	Device      *identity.DevicePayload `json:"device,omitempty"`
}

// clientDescriptor identifies the connecting client.
type clientDescriptor struct {
	ID       string `json:"id"`
	Mode     string `json:"mode"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"`
}

// authBlock carries the optional bearer credentials of a connect request.
type authBlock struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// Client is a gateway protocol client multiplexing correlated requests
// over one duplex connection.
type Client struct {
	config Config
	dialer transport.Dialer
	store  *identity.Store
	table  *correlation.Table
	logger log.Logger

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	connID   string
	identity *identity.DeviceIdentity
	attempt  *connectAttempt

	// Handshake plumbing for the current attempt. connectRes is closed
	// on disconnect, so senders must hold mu and check for nil.
	connectID   string
	connectRes  chan *wire.Response
	challengeCh chan string

	onEvent       EventHandler
	onStateChange StateChangeHandler

	// Observer notifications are queued in commit order and drained by a
	// single goroutine, so rapid transitions are never observed out of
	// order by the handler or the capture log.
	notifyMu    sync.Mutex
	notifyQueue []stateNotification
	notifying   bool
}

// stateNotification is one state transition queued for observers.
type stateNotification struct {
	oldState State
	newState State
	reason   string
	connID   string
	handler  StateChangeHandler
}

// New creates a gateway client. A nil dialer selects a NetDialer; a nil
// logger disables protocol logging.
func New(config Config, dialer transport.Dialer, logger log.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if dialer == nil {
		dialer = transport.NewNetDialer(transport.NetDialerConfig{
			TLSConfig:    config.TLSConfig,
			MaxFrameSize: config.MaxFrameSize,
		})
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	c := &Client{
		config: config,
		dialer: dialer,
		store:  identity.NewStore(config.AuthStatePath),
		table:  correlation.NewTable(),
		logger: logger,
		state:  StateDisconnected,
	}

	// Warm the identity from the persisted state; any miss is resolved
	// again on the first connect attempt.
	if id, err := c.store.Resolve(config.Device, false); err == nil && id != nil {
		c.identity = id
	}

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the device identity in use, or nil before one is
// resolved.
func (c *Client) Identity() *identity.DeviceIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Store exposes the auth state store backing this client.
func (c *Client) Store() *identity.Store {
	return c.store
}

// OnEvent sets the handler for server events other than the connect
// challenge. The handler runs on the read loop; keep it fast.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// OnStateChange sets the handler for state transitions.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = handler
}

// EnsureConnected makes sure the connection is Ready.
//
// Idempotent: a Ready connection returns immediately, and concurrent
// callers share a single in-flight connect attempt rather than issuing
// duplicate handshakes. The attempt itself is bounded by the configured
// connect timeout; each caller additionally honors its own context.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateReady:
		c.mu.Unlock()
		return nil
	}

	attempt := c.attempt
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		c.attempt = attempt
		go c.runConnect(attempt)
	}
	c.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runConnect performs one connect attempt end to end.
func (c *Client) runConnect(attempt *connectAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()

	c.setState(StateConnecting, "")

	// Resolve the device identity before opening the socket. Failure to
	// resolve degrades to a device-less connect rather than aborting.
	id, err := c.store.Resolve(c.config.Device, c.config.AutoDeviceAuth)
	if err != nil {
		c.logError(err, "identity resolve")
		id = nil
	}

	conn, err := c.dialer.DialContext(ctx, c.config.GatewayURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		} else {
			err = fmt.Errorf("%w: %v", ErrSocketError, err)
		}
		c.finishConnect(attempt, nil, err)
		return
	}

	connID := uuid.NewString()
	connectRes := make(chan *wire.Response, 1)
	challengeCh := make(chan string, 1)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		c.finishConnect(attempt, nil, ErrClientClosed)
		return
	}
	c.conn = conn
	c.connID = connID
	c.identity = id
	c.connectID = ""
	c.connectRes = connectRes
	c.challengeCh = challengeCh
	c.setStateLocked(StateAwaitingChallenge, "")
	c.mu.Unlock()

	go c.readLoop(conn)

	// Wait briefly for a challenge; deployments that never issue one
	// get the unsigned-nonce connect request after the fallback timer.
	var nonce string
	fallback := time.NewTimer(c.config.ChallengeWait)
	select {
	case nonce = <-challengeCh:
		fallback.Stop()
	case <-fallback.C:
	case <-connectRes:
		// Channel closed: the socket died while waiting.
		c.finishConnect(attempt, conn, fmt.Errorf("%w during handshake", ErrSocketClosed))
		return
	case <-ctx.Done():
		c.finishConnect(attempt, conn, ErrConnectTimeout)
		return
	}

	res, err := c.sendConnectRequest(ctx, conn, id, nonce, connectRes)
	if err != nil {
		c.finishConnect(attempt, conn, err)
		return
	}

	if !res.OK {
		msg := res.ErrorMessage("connect rejected")
		c.finishConnect(attempt, conn, fmt.Errorf("%w: %s", ErrConnectRejected, msg))
		return
	}

	// Persist any issued operator token before going Ready. Persistence
	// failure degrades to a token-less future connect.
	if err := c.store.PersistOperatorToken(res.Payload, c.config.Scopes, id); err != nil {
		c.logError(err, "persist operator token")
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		c.finishConnect(attempt, conn, ErrClientClosed)
		return
	}
	if c.conn != conn {
		// The socket died after the connect response was delivered; the
		// read loop already tore this connection down. Going Ready now
		// would leave the client wedged on a dead connection.
		c.mu.Unlock()
		c.finishConnect(attempt, conn, fmt.Errorf("%w during handshake", ErrSocketClosed))
		return
	}
	c.connectID = ""
	c.connectRes = nil
	c.challengeCh = nil
	c.attempt = nil
	c.setStateLocked(StateReady, "")
	c.mu.Unlock()

	attempt.err = nil
	close(attempt.done)
}

// sendConnectRequest builds, signs and sends the single connect request
// of this attempt, then waits for the matching response.
func (c *Client) sendConnectRequest(ctx context.Context, conn transport.Conn, id *identity.DeviceIdentity, nonce string, connectRes chan *wire.Response) (*wire.Response, error) {
	token := c.config.Token
	if token == "" {
		if op := c.store.OperatorToken(); op != nil {
			token = op.Token
		}
	}

	params := connectParams{
		MinProtocol: version.ProtocolMin,
		MaxProtocol: version.ProtocolMax,
		Client: clientDescriptor{
			ID:       c.config.ClientID,
			Mode:     c.config.Mode,
			Version:  version.Client,
			Platform: runtime.GOOS,
		},
		Role:   c.config.Role,
		Scopes: c.config.Scopes,
	}
	if token != "" || c.config.Password != "" {
		params.Auth = &authBlock{Token: token, Password: c.config.Password}
	}
	if id.Complete() {
		device, err := identity.BuildDevicePayload(id, identity.SignRequest{
			ClientID: c.config.ClientID,
			Mode:     c.config.Mode,
			Role:     c.config.Role,
			Scopes:   c.config.Scopes,
			Token:    token,
			Nonce:    nonce,
		})
		if err != nil {
			return nil, fmt.Errorf("device payload signing failed: %w", err)
		}
		params.Device = device
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	connectID := uuid.NewString()
	c.mu.Lock()
	c.connectID = connectID
	c.setStateLocked(StateAuthenticating, "")
	c.mu.Unlock()

	data, err := wire.EncodeRequest(&wire.Request{
		ID:     connectID,
		Method: wire.MethodConnect,
		Params: rawParams,
	})
	if err != nil {
		return nil, err
	}
	if err := c.writeFrame(conn, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocketError, err)
	}

	select {
	case res, ok := <-connectRes:
		if !ok {
			return nil, fmt.Errorf("%w during handshake", ErrSocketClosed)
		}
		return res, nil
	case <-ctx.Done():
		return nil, ErrConnectTimeout
	}
}

// finishConnect fails the in-flight attempt and tears the socket down.
func (c *Client) finishConnect(attempt *connectAttempt, conn transport.Conn, err error) {
	if conn != nil {
		conn.Close()
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connectID = ""
	c.connectRes = nil
	c.challengeCh = nil
	c.attempt = nil
	if c.state != StateClosed {
		c.setStateLocked(StateDisconnected, err.Error())
	}
	c.mu.Unlock()

	attempt.err = err
	close(attempt.done)
}

// Request issues a correlated request over the Ready connection and
// waits for its final response payload.
//
// The socket must be open at send time; requests are never queued. Each
// request gets a fresh correlation ID, and idempotency-sensitive methods
// additionally carry a generated idempotency key in their params.
func (c *Client) Request(ctx context.Context, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.state != StateReady || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	if method == wire.MethodAgent {
		rawParams, err = withIdempotencyKey(rawParams)
		if err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	call, err := c.table.Register(id, opts.TwoPhase)
	if err != nil {
		return nil, err
	}

	data, err := wire.EncodeRequest(&wire.Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		c.table.Cancel(id)
		return nil, err
	}
	if err := c.writeFrame(conn, data); err != nil {
		c.table.Cancel(id)
		return nil, fmt.Errorf("%w: %v", ErrSocketError, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-call.Done():
		return finishRequest(method, result)
	case <-timer.C:
		if c.table.Cancel(id) {
			return nil, ErrRequestTimeout
		}
		// The response won the race against removal.
		return finishRequest(method, <-call.Done())
	case <-ctx.Done():
		if c.table.Cancel(id) {
			return nil, ctx.Err()
		}
		return finishRequest(method, <-call.Done())
	}
}

// Agent submits a task payload to an agent as a two-phase request.
func (c *Client) Agent(ctx context.Context, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.Request(ctx, wire.MethodAgent, params, RequestOptions{
		TwoPhase: true,
		Timeout:  timeout,
	})
}

// finishRequest maps a correlation result to the caller's return values.
func finishRequest(method string, result correlation.Result) (json.RawMessage, error) {
	if result.Err != nil {
		return nil, result.Err
	}
	if !result.Response.OK {
		return nil, &Error{Method: method, Message: result.Response.ErrorMessage("")}
	}
	return result.Response.Payload, nil
}

// Close shuts the client down for good. Pending requests are rejected
// and subsequent calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	connectRes := c.connectRes
	c.connectRes = nil
	c.challengeCh = nil
	c.setStateLocked(StateClosed, "")
	c.mu.Unlock()

	if connectRes != nil {
		close(connectRes)
	}
	c.table.CancelAll(ErrClientClosed)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop dispatches inbound frames until the socket dies.
func (c *Client) readLoop(conn transport.Conn) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		c.logFrame(data, log.DirectionIn)

		decoded, err := wire.Decode(data)
		if err != nil {
			// Gateways may emit frames this client has no use for;
			// malformed inbound frames are dropped, not surfaced.
			continue
		}

		switch frame := decoded.(type) {
		case *wire.Response:
			c.dispatchResponse(frame)
		case *wire.Event:
			c.dispatchEvent(frame)
		case *wire.Request:
			// Server-initiated requests are not part of this protocol
			// profile; drop.
		}
	}
}

// dispatchResponse routes a response frame to the connect handshake or
// the correlation table.
func (c *Client) dispatchResponse(res *wire.Response) {
	c.mu.Lock()
	if c.connectRes != nil && c.connectID != "" && res.ID == c.connectID {
		select {
		case c.connectRes <- res:
		default:
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.table.HandleResponse(res)
}

// dispatchEvent routes a challenge to the in-flight handshake and
// everything else to the application handler.
func (c *Client) dispatchEvent(ev *wire.Event) {
	if ev.Event == wire.EventChallenge {
		var challenge wire.ChallengePayload
		if err := json.Unmarshal(ev.Payload, &challenge); err != nil || challenge.Nonce == "" {
			return
		}
		c.mu.Lock()
		if c.challengeCh != nil {
			select {
			case c.challengeCh <- challenge.Nonce:
			default:
			}
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	handler := c.onEvent
	c.mu.Unlock()
	if handler != nil {
		handler(ev.Event, ev.Payload)
	}
}

// handleDisconnect reacts to the socket dying: back to Disconnected,
// fail any in-flight handshake, and reject every pending request so no
// caller waits past a dead connection.
func (c *Client) handleDisconnect(conn transport.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop; the client already moved on.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	connectRes := c.connectRes
	c.connectRes = nil
	c.challengeCh = nil
	if c.state != StateClosed {
		c.setStateLocked(StateDisconnected, err.Error())
	}
	c.mu.Unlock()

	conn.Close()
	c.logError(err, "read loop")

	if connectRes != nil {
		close(connectRes)
	}
	c.table.CancelAll(ErrSocketClosed)
}

// writeFrame sends one frame and logs it.
func (c *Client) writeFrame(conn transport.Conn, data []byte) error {
	if err := conn.WriteFrame(data); err != nil {
		return err
	}
	c.logFrame(data, log.DirectionOut)
	return nil
}

// setState transitions the state machine and notifies observers.
func (c *Client) setState(newState State, reason string) {
	c.mu.Lock()
	c.setStateLocked(newState, reason)
	c.mu.Unlock()
}

// setStateLocked is setState with c.mu already held.
func (c *Client) setStateLocked(newState State, reason string) {
	oldState := c.state
	if oldState == newState {
		return
	}
	c.state = newState

	c.enqueueNotification(stateNotification{
		oldState: oldState,
		newState: newState,
		reason:   reason,
		connID:   c.connID,
		handler:  c.onStateChange,
	})
}

// enqueueNotification appends a transition to the notification queue and
// makes sure a drainer is running. Queue order is commit order.
func (c *Client) enqueueNotification(n stateNotification) {
	c.notifyMu.Lock()
	c.notifyQueue = append(c.notifyQueue, n)
	if c.notifying {
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true
	c.notifyMu.Unlock()

	go c.drainNotifications()
}

// drainNotifications delivers queued transitions one at a time, without
// holding any client lock, and exits once the queue is empty.
func (c *Client) drainNotifications() {
	for {
		c.notifyMu.Lock()
		if len(c.notifyQueue) == 0 {
			c.notifying = false
			c.notifyMu.Unlock()
			return
		}
		n := c.notifyQueue[0]
		c.notifyQueue = c.notifyQueue[1:]
		c.notifyMu.Unlock()

		c.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: n.connID,
			Direction:    log.DirectionLocal,
			Category:     log.CategoryState,
			StateChange: &log.StateChangeEvent{
				OldState: n.oldState.String(),
				NewState: n.newState.String(),
				Reason:   n.reason,
			},
		})
		if n.handler != nil {
			n.handler(n.oldState, n.newState)
		}
	}
}

// logFrame records a wire frame, truncating large payloads.
func (c *Client) logFrame(data []byte, direction log.Direction) {
	frameData := data
	truncated := false
	if len(frameData) > MaxLogFrameDataSize {
		frameData = frameData[:MaxLogFrameDataSize]
		truncated = true
	}

	c.mu.Lock()
	connID := c.connID
	deviceID := ""
	if c.identity != nil {
		deviceID = c.identity.ID
	}
	c.mu.Unlock()

	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Category:     log.CategoryFrame,
		DeviceID:     deviceID,
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}

// logError records an error event.
func (c *Client) logError(err error, context string) {
	c.mu.Lock()
	connID := c.connID
	c.mu.Unlock()

	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionLocal,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}

// marshalParams normalizes request params to raw JSON.
func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(params)
	}
}

// withIdempotencyKey injects a generated idempotency key into object
// params that lack one, letting the gateway collapse duplicate
// submissions of the same logical request.
func withIdempotencyKey(rawParams json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]any)
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &obj); err != nil {
			// Non-object params pass through untouched.
			return rawParams, nil
		}
	}
	if _, exists := obj["idempotencyKey"]; exists {
		return rawParams, nil
	}
	obj["idempotencyKey"] = uuid.NewString()
	return json.Marshal(obj)
}
