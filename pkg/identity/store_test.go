package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "auth", "state.json"))
}

func TestStoreRoundTrip(t *testing.T) {
	store := tempStore(t)

	id, err := Generate()
	require.NoError(t, err)

	saved := &AuthState{
		Device: id,
		Tokens: &Tokens{Operator: &OperatorToken{
			Token:  "tok-1",
			Role:   "operator",
			Scopes: []string{"agent"},
		}},
	}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, StateVersion, loaded.Version)
	assert.Equal(t, id, loaded.Device)
	require.NotNil(t, loaded.Tokens)
	require.NotNil(t, loaded.Tokens.Operator)
	assert.Equal(t, "tok-1", loaded.Tokens.Operator.Token)
	assert.Equal(t, []string{"agent"}, loaded.Tokens.Operator.Scopes)
}

func TestStoreLoadTolerant(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		state, err := tempStore(t).Load()
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("malformed content", func(t *testing.T) {
		store := tempStore(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
		require.NoError(t, os.WriteFile(store.Path(), []byte("not json{"), 0600))

		state, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("version mismatch", func(t *testing.T) {
		store := tempStore(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0700))
		require.NoError(t, os.WriteFile(store.Path(), []byte(`{"version":99}`), 0600))

		state, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("empty path", func(t *testing.T) {
		state, err := NewStore("").Load()
		require.NoError(t, err)
		assert.Nil(t, state)
	})
}

func TestResolveExplicitWins(t *testing.T) {
	store := tempStore(t)

	stored, err := Generate()
	require.NoError(t, err)
	require.NoError(t, store.Save(&AuthState{Device: stored}))

	explicit, err := Generate()
	require.NoError(t, err)

	got, err := store.Resolve(explicit, false)
	require.NoError(t, err)
	assert.Equal(t, explicit.ID, got.ID)
}

func TestResolveIncompleteExplicitFallsThrough(t *testing.T) {
	store := tempStore(t)

	stored, err := Generate()
	require.NoError(t, err)
	require.NoError(t, store.Save(&AuthState{Device: stored}))

	got, err := store.Resolve(&DeviceIdentity{ID: "partial"}, false)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
}

func TestResolveAutoCreatePersists(t *testing.T) {
	store := tempStore(t)

	got, err := store.Resolve(nil, true)
	require.NoError(t, err)
	require.True(t, got.Complete())

	// A second resolve returns the persisted identity, not a new one.
	again, err := store.Resolve(nil, true)
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)
}

func TestResolveNoneAvailable(t *testing.T) {
	got, err := tempStore(t).Resolve(nil, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistOperatorToken(t *testing.T) {
	store := tempStore(t)

	id, err := Generate()
	require.NoError(t, err)

	payload := json.RawMessage(`{"auth":{"deviceToken":"issued-tok","role":"operator","scopes":["agent","sessions"]}}`)
	require.NoError(t, store.PersistOperatorToken(payload, []string{"requested"}, id))

	tok := store.OperatorToken()
	require.NotNil(t, tok)
	assert.Equal(t, "issued-tok", tok.Token)
	assert.Equal(t, "operator", tok.Role)
	assert.Equal(t, []string{"agent", "sessions"}, tok.Scopes)
	assert.False(t, tok.UpdatedAt.IsZero())

	// The identity rides along in the same state file.
	state, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, state.Device)
	assert.Equal(t, id.ID, state.Device.ID)
}

func TestPersistOperatorTokenScopeFallback(t *testing.T) {
	store := tempStore(t)

	payload := json.RawMessage(`{"auth":{"deviceToken":"tok"}}`)
	require.NoError(t, store.PersistOperatorToken(payload, []string{"agent"}, nil))

	tok := store.OperatorToken()
	require.NotNil(t, tok)
	assert.Equal(t, []string{"agent"}, tok.Scopes)
}

func TestPersistOperatorTokenNoOp(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ``},
		{"no auth block", `{"status":"ok"}`},
		{"empty token", `{"auth":{"deviceToken":""}}`},
		{"token not a string", `{"auth":{"deviceToken":42}}`},
		{"unparsable", `]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tempStore(t)
			require.NoError(t, store.PersistOperatorToken(json.RawMessage(tt.payload), nil, nil))
			assert.Nil(t, store.OperatorToken())

			// The no-op writes nothing to disk either.
			_, err := os.Stat(store.Path())
			assert.True(t, os.IsNotExist(err))
		})
	}
}
