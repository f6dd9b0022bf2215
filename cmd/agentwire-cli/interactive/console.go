// Package interactive provides the readline command loop for
// agentwire-cli.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/agentwire-protocol/agentwire-go/pkg/discovery"
	"github.com/agentwire-protocol/agentwire-go/pkg/gateway"
	"github.com/agentwire-protocol/agentwire-go/pkg/wire"
)

// Console handles interactive mode for agentwire-cli.
type Console struct {
	client     *gateway.Client
	gatewayURL string
	rl         *readline.Instance
}

// New creates a console bound to a gateway client.
func New(client *gateway.Client, gatewayURL string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agentwire> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{
		client:     client,
		gatewayURL: gatewayURL,
		rl:         rl,
	}

	client.OnEvent(c.handleEvent)
	client.OnStateChange(c.handleStateChange)

	return c, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect(ctx)

		case "agent", "a":
			c.cmdAgent(ctx, args)

		case "send":
			c.cmdSend(ctx, args)

		case "status", "s":
			c.cmdStatus()

		case "discover", "d":
			c.cmdDiscover(ctx)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
AgentWire Commands:
  connect              - Connect and authenticate with the gateway
  agent <message>      - Submit an agent request and wait for the result
  send <method> [json] - Send a raw request with optional JSON params
  status               - Show connection state, identity and token
  discover             - Browse for gateways on the local network
  help                 - Show this help
  quit                 - Exit`)
}

// cmdConnect handles the connect command.
func (c *Console) cmdConnect(ctx context.Context) {
	if c.client.State() == gateway.StateReady {
		fmt.Fprintln(c.rl.Stdout(), "Already connected")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s...\n", c.gatewayURL)
	if err := c.client.EnsureConnected(ctx); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "Connected")
}

// cmdAgent handles the agent command.
func (c *Console) cmdAgent(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: agent <message>")
		return
	}

	message := strings.Join(args, " ")
	fmt.Fprintln(c.rl.Stdout(), "Submitted, waiting for result...")

	start := time.Now()
	payload, err := c.client.Agent(ctx, map[string]any{"message": message}, 0)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Agent request failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Result (%.1fs):\n", time.Since(start).Seconds())
	c.printPayload(payload)
}

// cmdSend handles the send command.
func (c *Console) cmdSend(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <method> [json-params]")
		fmt.Fprintln(c.rl.Stdout(), `  Example: send agent {"message":"hello"}`)
		return
	}

	method := args[0]
	var params json.RawMessage
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if !json.Valid([]byte(raw)) {
			fmt.Fprintf(c.rl.Stdout(), "Invalid JSON params: %s\n", raw)
			return
		}
		params = json.RawMessage(raw)
	}

	opts := gateway.RequestOptions{TwoPhase: method == wire.MethodAgent}
	payload, err := c.client.Request(ctx, method, params, opts)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Request failed: %v\n", err)
		return
	}
	c.printPayload(payload)
}

// cmdStatus shows the connection status.
func (c *Console) cmdStatus() {
	fmt.Fprintln(c.rl.Stdout(), "\nConnection Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Gateway:   %s\n", c.gatewayURL)
	fmt.Fprintf(c.rl.Stdout(), "  State:     %s\n", c.client.State())

	if id := c.client.Identity(); id != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Device ID: %s\n", shorten(id.ID, 16))
	} else {
		fmt.Fprintln(c.rl.Stdout(), "  Device ID: none")
	}

	if token := c.client.Store().OperatorToken(); token != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Token:     %s (role %s, updated %s)\n",
			shorten(token.Token, 8), token.Role, token.UpdatedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(c.rl.Stdout(), "  Token:     none")
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdDiscover browses for gateways for a few seconds.
func (c *Console) cmdDiscover(ctx context.Context) {
	fmt.Fprintf(c.rl.Stdout(), "Browsing %s for 5s...\n", discovery.ServiceType)

	browseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results, err := discovery.NewBrowser("").Browse(browseCtx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Browse failed: %v\n", err)
		return
	}

	found := 0
	for svc := range results {
		found++
		name := svc.Name
		if name == "" {
			name = svc.InstanceName
		}
		fmt.Fprintf(c.rl.Stdout(), "  %s  %s  (proto %d)\n", name, svc.URL(), svc.Protocol)
	}
	fmt.Fprintf(c.rl.Stdout(), "Done (%d gateway(s) found)\n", found)
}

// printPayload pretty-prints a response payload.
func (c *Console) printPayload(payload json.RawMessage) {
	if len(payload) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "  (empty)")
		return
	}
	var pretty map[string]any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "  %s\n", payload)
		return
	}
	formatted, err := json.MarshalIndent(pretty, "  ", "  ")
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "  %s\n", payload)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "  %s\n", formatted)
}

// handleEvent displays server events above the prompt.
func (c *Console) handleEvent(event string, payload json.RawMessage) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Event %s: %s\n",
		time.Now().Format("15:04:05"), event, payload)
	c.rl.Refresh()
}

// handleStateChange displays connection state transitions.
func (c *Console) handleStateChange(oldState, newState gateway.State) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] State %s -> %s\n",
		time.Now().Format("15:04:05"), oldState, newState)
	c.rl.Refresh()
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
