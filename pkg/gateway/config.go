package gateway

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentwire-protocol/agentwire-go/pkg/identity"
	"github.com/agentwire-protocol/agentwire-go/pkg/transport"
)

// Default timing configuration.
const (
	// DefaultConnectTimeout bounds the whole connect handshake.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultRequestTimeout bounds an individual request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultChallengeWait is how long a fresh connection waits for a
	// connect.challenge event before sending the unsigned-nonce connect
	// request.
	DefaultChallengeWait = 1 * time.Second
)

// Default connect descriptor values.
const (
	// DefaultMode is the client mode announced in the connect request.
	DefaultMode = "operator"

	// DefaultRole is the role requested in the connect request.
	DefaultRole = "operator"
)

// Config configures a gateway client. All values are externally supplied;
// the client computes nothing on its own.
type Config struct {
	// GatewayURL is the gateway endpoint (tcp:// or tls://).
	GatewayURL string `yaml:"gateway_url"`

	// ClientID identifies this client instance in the connect
	// descriptor. A random ID is generated when empty.
	ClientID string `yaml:"client_id"`

	// Mode is the client mode (default "operator").
	Mode string `yaml:"mode"`

	// Role is the requested role (default "operator").
	Role string `yaml:"role"`

	// Scopes are the requested scopes, in request order.
	Scopes []string `yaml:"scopes"`

	// Token is an optional bearer token for the connect auth block.
	// When empty, a previously persisted operator token is used.
	Token string `yaml:"token"`

	// Password is an optional shared secret for the connect auth block.
	Password string `yaml:"password"`

	// Device is an optional explicit device identity. Takes priority
	// over the persisted identity when complete.
	Device *identity.DeviceIdentity `yaml:"device"`

	// AuthStatePath is where the auth state file lives. Empty disables
	// persistence.
	AuthStatePath string `yaml:"auth_state_path"`

	// AutoDeviceAuth enables generating a device identity when none
	// exists.
	AutoDeviceAuth bool `yaml:"auto_device_auth"`

	// ConnectTimeout bounds EnsureConnected. In YAML this is a duration
	// string such as "15s".
	ConnectTimeout time.Duration `yaml:"-"`

	// RequestTimeout is the default bound for Request.
	RequestTimeout time.Duration `yaml:"-"`

	// ChallengeWait is the challenge fallback timer.
	ChallengeWait time.Duration `yaml:"-"`

	// MaxFrameSize caps wire frames (default transport.DefaultMaxFrameSize).
	MaxFrameSize int `yaml:"max_frame_size"`

	// TLSConfig is used for tls:// gateway URLs. Nil selects the
	// dialer's default. Ignored when a custom Dialer is supplied.
	TLSConfig *tls.Config `yaml:"-"`
}

// DefaultConfig returns a config with defaults filled in.
// The gateway URL must still be supplied.
func DefaultConfig() Config {
	return Config{
		Mode:           DefaultMode,
		Role:           DefaultRole,
		AutoDeviceAuth: true,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		ChallengeWait:  DefaultChallengeWait,
		MaxFrameSize:   transport.DefaultMaxFrameSize,
	}
}

// UnmarshalYAML decodes a config, accepting duration fields as Go
// duration strings ("15s", "1m30s").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}

	var aux struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		RequestTimeout string `yaml:"request_timeout"`
		ChallengeWait  string `yaml:"challenge_wait"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}

	durations := []struct {
		raw  string
		dest *time.Duration
	}{
		{aux.ConnectTimeout, &c.ConnectTimeout},
		{aux.RequestTimeout, &c.RequestTimeout},
		{aux.ChallengeWait, &c.ChallengeWait},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dest = parsed
	}
	return nil
}

// LoadConfig reads a YAML config file overlaid on the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the config for usability and fills zero values with
// defaults.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if _, _, err := transport.ParseGatewayURL(c.GatewayURL); err != nil {
		return err
	}

	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Role == "" {
		c.Role = DefaultRole
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ChallengeWait <= 0 {
		c.ChallengeWait = DefaultChallengeWait
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = transport.DefaultMaxFrameSize
	}
	return nil
}
