package agentwire_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwire-protocol/agentwire-go/pkg/gateway"
	"github.com/agentwire-protocol/agentwire-go/pkg/identity"
	"github.com/agentwire-protocol/agentwire-go/pkg/transport"
	"github.com/agentwire-protocol/agentwire-go/pkg/wire"
)

// testGateway is a minimal in-process gateway speaking the wire protocol
// over real TCP sockets. It issues a challenge, verifies the device
// signature and serves agent requests with a two-phase response.
type testGateway struct {
	t        *testing.T
	listener net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := &testGateway{t: t, listener: listener}
	go g.acceptLoop()
	t.Cleanup(g.close)
	return g
}

func (g *testGateway) url() string {
	return fmt.Sprintf("tcp://%s", g.listener.Addr())
}

func (g *testGateway) close() {
	g.listener.Close()
	g.dropConnections()
}

// dropConnections closes every accepted socket, simulating a gateway
// restart.
func (g *testGateway) dropConnections() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
}

func (g *testGateway) acceptLoop() {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		go g.serve(conn)
	}
}

func (g *testGateway) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	writeFrame := func(data []byte) {
		conn.Write(append(data, '\n'))
	}

	// Challenge first, as a well-behaved gateway would.
	nonce := fmt.Sprintf("nonce-%d", time.Now().UnixNano())
	challenge, _ := json.Marshal(wire.ChallengePayload{Nonce: nonce})
	event, err := wire.EncodeEvent(&wire.Event{Event: wire.EventChallenge, Payload: challenge})
	if err != nil {
		return
	}
	writeFrame(event)

	authenticated := false
	for scanner.Scan() {
		decoded, err := wire.Decode(scanner.Bytes())
		if err != nil {
			continue
		}
		req, ok := decoded.(*wire.Request)
		if !ok {
			continue
		}

		switch req.Method {
		case wire.MethodConnect:
			res := g.handleConnect(req, nonce)
			authenticated = res.OK
			data, _ := wire.EncodeResponse(res)
			writeFrame(data)

		case wire.MethodAgent:
			if !authenticated {
				data, _ := wire.EncodeResponse(&wire.Response{
					ID: req.ID, OK: false,
					Error: &wire.ErrorDetail{Message: "not authenticated"},
				})
				writeFrame(data)
				continue
			}
			// Interim acknowledgment, then the final result.
			accepted, _ := json.Marshal(map[string]string{"status": wire.AcceptedStatus})
			data, _ := wire.EncodeResponse(&wire.Response{ID: req.ID, OK: true, Payload: accepted})
			writeFrame(data)

			final, _ := json.Marshal(map[string]string{"result": "completed"})
			data, _ = wire.EncodeResponse(&wire.Response{ID: req.ID, OK: true, Payload: final})
			writeFrame(data)

		default:
			data, _ := wire.EncodeResponse(&wire.Response{
				ID: req.ID, OK: false,
				Error: &wire.ErrorDetail{Message: "unknown method"},
			})
			writeFrame(data)
		}
	}
}

// handleConnect verifies the signed device block against the nonce this
// connection issued.
func (g *testGateway) handleConnect(req *wire.Request, nonce string) *wire.Response {
	var params struct {
		Client struct {
			ID   string `json:"id"`
			Mode string `json:"mode"`
		} `json:"client"`
		Role   string                  `json:"role"`
		Scopes []string                `json:"scopes"`
		Device *identity.DevicePayload `json:"device"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Device == nil {
		return &wire.Response{ID: req.ID, OK: false,
			Error: &wire.ErrorDetail{Message: "missing device identity"}}
	}
	if params.Device.Nonce != nonce {
		return &wire.Response{ID: req.ID, OK: false,
			Error: &wire.ErrorDetail{Message: "nonce mismatch"}}
	}

	payload := identity.SigningPayload(identity.SignRequest{
		DeviceID: params.Device.ID,
		ClientID: params.Client.ID,
		Mode:     params.Client.Mode,
		Role:     params.Role,
		Scopes:   params.Scopes,
		SignedAt: time.UnixMilli(params.Device.SignedAt),
		Nonce:    params.Device.Nonce,
	})
	if !identity.Verify(params.Device.PublicKey, payload, params.Device.Signature) {
		return &wire.Response{ID: req.ID, OK: false,
			Error: &wire.ErrorDetail{Message: "bad signature"}}
	}

	result, _ := json.Marshal(map[string]any{
		"protocol": 1,
		"auth":     map[string]string{"deviceToken": "integration-token"},
	})
	return &wire.Response{ID: req.ID, OK: true, Payload: result}
}

func newIntegrationClient(t *testing.T, url string) *gateway.Client {
	t.Helper()
	config := gateway.DefaultConfig()
	config.GatewayURL = url
	config.Scopes = []string{"agents:invoke"}
	config.AuthStatePath = filepath.Join(t.TempDir(), "auth.json")
	config.ConnectTimeout = 5 * time.Second
	config.RequestTimeout = 5 * time.Second
	config.ChallengeWait = time.Second

	client, err := gateway.New(config, transport.NewNetDialer(transport.NetDialerConfig{}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForState(client *gateway.Client, expected gateway.State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.State() == expected {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return client.State() == expected
}

func TestIntegrationConnectAndRequest(t *testing.T) {
	gw := newTestGateway(t)
	client := newIntegrationClient(t, gw.url())

	require.NoError(t, client.EnsureConnected(context.Background()))
	assert.Equal(t, gateway.StateReady, client.State())

	// The handshake signed over the gateway's nonce and got a token back.
	token := client.Store().OperatorToken()
	require.NotNil(t, token)
	assert.Equal(t, "integration-token", token.Token)

	payload, err := client.Agent(context.Background(), map[string]any{"message": "hello"}, 0)
	require.NoError(t, err)

	var result struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, "completed", result.Result)
}

func TestIntegrationConcurrentRequests(t *testing.T) {
	gw := newTestGateway(t)
	client := newIntegrationClient(t, gw.url())
	require.NoError(t, client.EnsureConnected(context.Background()))

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Agent(context.Background(),
				map[string]any{"message": fmt.Sprintf("task %d", i)}, 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
}

func TestIntegrationGatewayRestart(t *testing.T) {
	gw := newTestGateway(t)
	client := newIntegrationClient(t, gw.url())
	require.NoError(t, client.EnsureConnected(context.Background()))

	gw.dropConnections()
	require.True(t, waitForState(client, gateway.StateDisconnected, 2*time.Second),
		"client should notice the dropped socket")

	// Identity survives; the reconnect handshake signs a fresh nonce.
	require.NoError(t, client.EnsureConnected(context.Background()))
	assert.Equal(t, gateway.StateReady, client.State())

	_, err := client.Agent(context.Background(), map[string]any{"message": "after restart"}, 0)
	assert.NoError(t, err)
}

func TestIntegrationIdentityPersistsAcrossClients(t *testing.T) {
	gw := newTestGateway(t)

	authPath := filepath.Join(t.TempDir(), "auth.json")
	makeClient := func() *gateway.Client {
		config := gateway.DefaultConfig()
		config.GatewayURL = gw.url()
		config.AuthStatePath = authPath
		config.ConnectTimeout = 5 * time.Second
		config.ChallengeWait = time.Second

		client, err := gateway.New(config, nil, nil)
		require.NoError(t, err)
		return client
	}

	first := makeClient()
	require.NoError(t, first.EnsureConnected(context.Background()))
	firstID := first.Identity().ID
	first.Close()

	second := makeClient()
	defer second.Close()
	require.NoError(t, second.EnsureConnected(context.Background()))

	assert.Equal(t, firstID, second.Identity().ID, "device identity should be reused")
}
