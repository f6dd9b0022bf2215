package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the auth-state file format.
const StateVersion = 1

// AuthState is the durable auth record for one gateway client.
type AuthState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// Device is the persisted device identity, if one has been created.
	Device *DeviceIdentity `json:"device,omitempty"`

	// Tokens holds tokens issued by the gateway.
	Tokens *Tokens `json:"tokens,omitempty"`
}

// Tokens groups issued tokens by role.
type Tokens struct {
	// Operator is the token issued to an operator connection.
	Operator *OperatorToken `json:"operator,omitempty"`
}

// OperatorToken is a gateway-issued token persisted for future connects.
type OperatorToken struct {
	Token     string    `json:"token"`
	Role      string    `json:"role,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists auth state to a JSON file.
//
// A store with an empty path keeps nothing durable: loads report empty
// state and saves are silently skipped. Exactly one client instance is
// assumed to own a given path; there is no cross-process locking.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given path.
// An empty path disables persistence.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the configured state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the auth state from disk.
//
// Returns nil, nil when the file does not exist, cannot be parsed, or has
// an unexpected version. Persisted auth is a convenience: losing it means
// re-authenticating, so none of these conditions are treated as errors.
func (s *Store) Load() (*AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*AuthState, error) {
	if s.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &AuthState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, nil
	}
	if state.Version != StateVersion {
		return nil, nil
	}

	return state, nil
}

// Save writes the full auth state to disk, creating parent directories as
// needed. The whole record is replaced; last writer wins.
func (s *Store) Save(state *AuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *Store) saveLocked(state *AuthState) error {
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	state.Version = StateVersion

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0600)
}

// Resolve produces the device identity to use for a connect attempt.
//
// Priority: a complete caller-supplied identity wins, then an identity
// found in the persisted state, then - when autoCreate is set - a freshly
// generated identity which is persisted before being returned. With
// nothing available and autoCreate off, Resolve returns nil, nil.
func (s *Store) Resolve(explicit *DeviceIdentity, autoCreate bool) (*DeviceIdentity, error) {
	if explicit.Complete() {
		return explicit, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if state != nil && state.Device.Complete() {
		return state.Device, nil
	}

	if !autoCreate {
		return nil, nil
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}

	if state == nil {
		state = &AuthState{}
	}
	state.Device = id
	if err := s.saveLocked(state); err != nil {
		return nil, err
	}

	return id, nil
}

// connectAuthPayload is the slice of a connect response payload the store
// cares about.
type connectAuthPayload struct {
	Auth *struct {
		DeviceToken string   `json:"deviceToken"`
		Role        string   `json:"role,omitempty"`
		Scopes      []string `json:"scopes,omitempty"`
	} `json:"auth"`
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// PersistOperatorToken extracts a gateway-issued token from a successful
// connect response payload and stores it for future connections.
//
// Deployments that issue no persistent tokens leave auth.deviceToken
// absent; that is a silent no-op, not an error. Role and scopes are taken
// from the response when present, falling back to the scopes that were
// requested. The identity, when given, is persisted alongside so a single
// state file carries both.
func (s *Store) PersistOperatorToken(payload json.RawMessage, requestedScopes []string, id *DeviceIdentity) error {
	if len(payload) == 0 {
		return nil
	}

	var parsed connectAuthPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil
	}
	if parsed.Auth == nil || parsed.Auth.DeviceToken == "" {
		return nil
	}

	role := parsed.Auth.Role
	if role == "" {
		role = parsed.Role
	}
	scopes := parsed.Auth.Scopes
	if len(scopes) == 0 {
		scopes = parsed.Scopes
	}
	if len(scopes) == 0 {
		scopes = requestedScopes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	if state == nil {
		state = &AuthState{}
	}
	if id.Complete() {
		state.Device = id
	}
	if state.Tokens == nil {
		state.Tokens = &Tokens{}
	}
	state.Tokens.Operator = &OperatorToken{
		Token:     parsed.Auth.DeviceToken,
		Role:      role,
		Scopes:    scopes,
		UpdatedAt: time.Now().UTC(),
	}

	return s.saveLocked(state)
}

// OperatorToken returns the persisted operator token, or nil when none
// has been issued.
func (s *Store) OperatorToken() *OperatorToken {
	state, err := s.Load()
	if err != nil || state == nil || state.Tokens == nil {
		return nil
	}
	return state.Tokens.Operator
}
