// Command agentwire-cli is an interactive AgentWire gateway client.
//
// It connects to a gateway, authenticates with a persistent device
// identity and lets you submit agent requests from a readline prompt.
//
// Usage:
//
//	agentwire-cli [flags]
//
// Flags:
//
//	-gateway string     Gateway URL (tcp://host:port or tls://host:port)
//	-config string      YAML config file path
//	-auth-state string  Auth state file (default ~/.agentwire/auth.json)
//	-token string       Bearer token for the connect request
//	-role string        Requested role (default "operator")
//	-scopes string      Comma-separated requested scopes
//	-client-id string   Client ID announced to the gateway
//	-capture string     Write a CBOR protocol capture to this file
//	-verbose            Mirror protocol events to the console
//	-discover           Browse for gateways via mDNS and exit
//
// Examples:
//
//	# Find gateways on the local network
//	agentwire-cli -discover
//
//	# Connect and start the prompt
//	agentwire-cli -gateway tls://gw.example:9443 -scopes agents:invoke
//
//	# Record a protocol capture for later inspection
//	agentwire-cli -gateway tcp://localhost:9100 -capture session.awlog
//
// Interactive Commands:
//
//	connect              - Connect to the gateway
//	agent <message>      - Submit an agent request and wait for the result
//	send <method> [json] - Send a raw request
//	status               - Show connection state and identity
//	quit                 - Exit
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/agentwire-protocol/agentwire-go/cmd/agentwire-cli/interactive"
	"github.com/agentwire-protocol/agentwire-go/pkg/discovery"
	"github.com/agentwire-protocol/agentwire-go/pkg/gateway"
	"github.com/agentwire-protocol/agentwire-go/pkg/log"
)

type cliFlags struct {
	GatewayURL string
	ConfigFile string
	AuthState  string
	Token      string
	Role       string
	Scopes     string
	ClientID   string
	Capture    string
	Verbose    bool
	Discover   bool
}

var flags cliFlags

func init() {
	flag.StringVar(&flags.GatewayURL, "gateway", "", "Gateway URL (tcp://host:port or tls://host:port)")
	flag.StringVar(&flags.ConfigFile, "config", "", "YAML config file path")
	flag.StringVar(&flags.AuthState, "auth-state", "", "Auth state file path")
	flag.StringVar(&flags.Token, "token", "", "Bearer token for the connect request")
	flag.StringVar(&flags.Role, "role", "", "Requested role")
	flag.StringVar(&flags.Scopes, "scopes", "", "Comma-separated requested scopes")
	flag.StringVar(&flags.ClientID, "client-id", "", "Client ID announced to the gateway")
	flag.StringVar(&flags.Capture, "capture", "", "Write a CBOR protocol capture to this file")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Mirror protocol events to the console")
	flag.BoolVar(&flags.Discover, "discover", false, "Browse for gateways via mDNS and exit")
}

func main() {
	flag.Parse()

	if flags.Discover {
		runDiscovery()
		return
	}

	config, err := buildConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger, closeLogger, err := buildLogger()
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLogger()

	client, err := gateway.New(config, nil, logger)
	if err != nil {
		stdlog.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	console, err := interactive.New(client, config.GatewayURL)
	if err != nil {
		stdlog.Fatalf("Failed to create console: %v", err)
	}
	stdlog.SetOutput(console.Stdout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go console.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		stdlog.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}
}

// buildConfig assembles the client config from the config file and the
// command-line flags, flags winning.
func buildConfig() (gateway.Config, error) {
	config := gateway.DefaultConfig()

	if flags.ConfigFile != "" {
		loaded, err := gateway.LoadConfig(flags.ConfigFile)
		if err != nil {
			return gateway.Config{}, err
		}
		config = loaded
	}

	if flags.GatewayURL != "" {
		config.GatewayURL = flags.GatewayURL
	}
	if flags.ClientID != "" {
		config.ClientID = flags.ClientID
	}
	if flags.Token != "" {
		config.Token = flags.Token
	}
	if flags.Role != "" {
		config.Role = flags.Role
	}
	if flags.Scopes != "" {
		config.Scopes = strings.Split(flags.Scopes, ",")
	}
	if flags.AuthState != "" {
		config.AuthStatePath = flags.AuthState
	} else if config.AuthStatePath == "" {
		config.AuthStatePath = defaultAuthStatePath()
	}

	return config, config.Validate()
}

// buildLogger wires the protocol capture and console mirrors.
func buildLogger() (log.Logger, func(), error) {
	var loggers []log.Logger
	closeLogger := func() {}

	if flags.Capture != "" {
		fileLogger, err := log.NewFileLogger(flags.Capture)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fileLogger)
		closeLogger = func() { fileLogger.Close() }
	}
	if flags.Verbose {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		loggers = append(loggers, log.NewSlogAdapter(slog.New(handler)))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closeLogger, nil
	case 1:
		return loggers[0], closeLogger, nil
	default:
		return log.NewMultiLogger(loggers...), closeLogger, nil
	}
}

func defaultAuthStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentwire", "auth.json")
}

// runDiscovery browses for gateways and prints what it finds.
func runDiscovery() {
	stdlog.Printf("Browsing for gateways (%s)...", discovery.ServiceType)

	ctx, cancel := context.WithTimeout(context.Background(), discovery.BrowseTimeout)
	defer cancel()

	results, err := discovery.NewBrowser("").Browse(ctx)
	if err != nil {
		stdlog.Fatalf("Browse failed: %v", err)
	}

	found := 0
	deadline := time.After(discovery.BrowseTimeout)
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				stdlog.Printf("Done (%d gateway(s) found)", found)
				return
			}
			found++
			name := svc.Name
			if name == "" {
				name = svc.InstanceName
			}
			stdlog.Printf("  %s  %s  (proto %d, fp %s)", name, svc.URL(), svc.Protocol, svc.Fingerprint)
		case <-deadline:
			stdlog.Printf("Done (%d gateway(s) found)", found)
			return
		}
	}
}
