package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		errContains string
	}{
		{name: "memory", provider: "memory"},
		{name: "env", provider: "env"},
		{name: "keyring", provider: "keyring"},
		{name: "default is keyring", provider: ""},
		{name: "unknown provider", provider: "floppy", errContains: "unsupported credential provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(Config{Provider: tc.provider})
			if tc.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				assert.Nil(t, store)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, store)
		})
	}
}

func TestStoreContract(t *testing.T) {
	keyring.MockInit()
	t.Setenv(TokenEnv, "")

	stores := map[string]Store{
		"memory":  NewMemoryStore(),
		"env":     NewEnvStore(),
		"keyring": NewKeyringStore(),
	}
	ctx := context.Background()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetToken(ctx, "workstation-a")
			require.ErrorIs(t, err, ErrTokenNotFound)

			require.NoError(t, s.SetToken(ctx, "workstation-a", "tok-1"))
			got, err := s.GetToken(ctx, "workstation-a")
			require.NoError(t, err)
			assert.Equal(t, "tok-1", got)

			require.NoError(t, s.DeleteToken(ctx, "workstation-a"))
			_, err = s.GetToken(ctx, "workstation-a")
			assert.ErrorIs(t, err, ErrTokenNotFound)

			require.NoError(t, s.DeleteToken(ctx, "workstation-a"), "deleting a missing token is not an error")
		})
	}
}

// fakeVault serves the subset of the Vault HTTP API the store touches.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/sys/health" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"initialized":true,"sealed":false,"standby":false,"version":"1.15.0"}`)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		data, ok := f.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	case http.MethodPut, http.MethodPost:
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.secrets[path] = body
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(f.secrets, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultStore(t *testing.T) {
	fv := &fakeVault{secrets: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(fv)
	t.Cleanup(srv.Close)

	s, err := NewVaultStore(VaultConfig{Address: srv.URL, Token: "root", PathPrefix: "/secret/telemetry/"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.GetToken(ctx, "ws-1")
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, s.SetToken(ctx, "ws-1", "vault-token"))
	fv.mu.Lock()
	assert.Equal(t, "vault-token", fv.secrets["secret/telemetry/ws-1"]["token"])
	fv.mu.Unlock()

	got, err := s.GetToken(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "vault-token", got)

	require.NoError(t, s.DeleteToken(ctx, "ws-1"))
	_, err = s.GetToken(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestProvider(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewProvider(store, "ws-1")

	_, err := p.Credentials(ctx)
	require.ErrorIs(t, err, ErrMissingToken)

	require.NoError(t, store.SetToken(ctx, "ws-1", "a"))
	c, err := p.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{DeviceID: "ws-1", Token: "a"}, c)

	// cached until refreshed
	require.NoError(t, store.SetToken(ctx, "ws-1", "b"))
	c, _ = p.Credentials(ctx)
	assert.Equal(t, "a", c.Token)
	c, err = p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", c.Token)

	require.NoError(t, p.Save(ctx, "c"))
	got, _ := store.GetToken(ctx, "ws-1")
	assert.Equal(t, "c", got)

	require.NoError(t, p.Forget(ctx))
	_, err = p.Credentials(ctx)
	assert.ErrorIs(t, err, ErrMissingToken)
}
