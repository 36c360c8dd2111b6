package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

func newTestService(t *testing.T, idp *httptest.Server) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		OAuth: config.OAuthConfig{
			LoginURI:     "https://idp.example.com/authorize",
			TokenURI:     "https://idp.example.com/token",
			CallbackURI:  "https://crates.example.com/callback",
			UserInfoURI:  "https://idp.example.com/userinfo",
			ClientID:     "client",
			ClientSecret: "secret",
			ClientScope:  "openid email",
		},
		SelfServiceLogin: "selfservicelogin",
		SelfServiceToken: strings.Repeat("s", 64),
	}
	if idp != nil {
		cfg.OAuth.TokenURI = idp.URL + "/token"
		cfg.OAuth.UserInfoURI = idp.URL + "/userinfo"
	}
	return NewService(cfg, store, nil), store
}

func newIdentityProvider(t *testing.T, email, name string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "idp-access-token",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Authorization"), "idp-access-token")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"email": email, "name": name})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func stateFromLoginURL(t *testing.T, loginURL string) string {
	t.Helper()
	u, err := url.Parse(loginURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthFlow(t *testing.T) {
	idp := newIdentityProvider(t, "alice@example.com", "Alice")
	service, store := newTestService(t, idp)

	state := stateFromLoginURL(t, service.LoginURL())

	user, session, err := service.HandleCallback(context.Background(), state, "authcode")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	require.NotNil(t, session)

	// The user was upserted in the store.
	stored, err := store.UserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	// The session cookie authenticates subsequent requests.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session.ID})
	principal, err := service.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", principal.Principal)
	assert.True(t, principal.CanWrite)
	assert.False(t, principal.CanAdmin)
}

func TestCallbackRejectsBadState(t *testing.T) {
	idp := newIdentityProvider(t, "alice@example.com", "Alice")
	service, _ := newTestService(t, idp)

	_, _, err := service.HandleCallback(context.Background(), "forged", "authcode")
	assert.ErrorIs(t, err, apierr.InvalidRequest(""))

	// States are single-use.
	state := stateFromLoginURL(t, service.LoginURL())
	_, _, err = service.HandleCallback(context.Background(), state, "authcode")
	require.NoError(t, err)
	_, _, err = service.HandleCallback(context.Background(), state, "authcode")
	assert.ErrorIs(t, err, apierr.InvalidRequest(""))
}

func TestCallbackRejectsInactiveUser(t *testing.T) {
	idp := newIdentityProvider(t, "alice@example.com", "Alice")
	service, store := newTestService(t, idp)

	user, err := store.UpsertUserFromOAuth("alice@example.com", "Alice")
	require.NoError(t, err)
	require.NoError(t, store.SetUserActive(user.ID, false))

	state := stateFromLoginURL(t, service.LoginURL())
	_, _, err = service.HandleCallback(context.Background(), state, "authcode")
	assert.ErrorIs(t, err, apierr.Unauthorized())
}

func issueTestToken(t *testing.T, store storage.Store, canWrite, canAdmin bool) (*types.User, *types.TokenWithSecret) {
	t.Helper()
	user, err := store.UpsertUserFromOAuth("alice@example.com", "Alice")
	require.NoError(t, err)
	token, err := store.IssueToken(user.ID, "test", canWrite, canAdmin)
	require.NoError(t, err)
	return user, token
}

func TestAuthenticateBearer(t *testing.T) {
	service, store := newTestService(t, nil)
	_, token := issueTestToken(t, store, true, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token.Secret)
	principal, err := service.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", principal.Principal)
	assert.True(t, principal.CanWrite)
	assert.False(t, principal.CanAdmin)
}

func TestAuthenticateRawToken(t *testing.T) {
	service, store := newTestService(t, nil)
	_, token := issueTestToken(t, store, false, false)

	// Cargo sends the token without a scheme.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", token.Secret)
	principal, err := service.Authenticate(req)
	require.NoError(t, err)
	assert.False(t, principal.CanWrite)
}

func TestAuthenticateBasic(t *testing.T) {
	service, store := newTestService(t, nil)
	user, token := issueTestToken(t, store, true, true)

	basic := base64.StdEncoding.EncodeToString([]byte(user.Login + ":" + token.Secret))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic "+basic)
	principal, err := service.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, principal.CanAdmin)

	// Wrong login fails even with the right secret.
	basic = base64.StdEncoding.EncodeToString([]byte("mallory:" + token.Secret))
	req.Header.Set("Authorization", "Basic "+basic)
	_, err = service.Authenticate(req)
	assert.ErrorIs(t, err, apierr.Unauthorized())
}

func TestAuthenticateSelfService(t *testing.T) {
	service, _ := newTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+strings.Repeat("s", 64))
	principal, err := service.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, SelfServicePrincipal, principal.Principal)
	assert.True(t, principal.CanWrite)
	assert.True(t, principal.CanAdmin)

	basic := base64.StdEncoding.EncodeToString([]byte("selfservicelogin:" + strings.Repeat("s", 64)))
	req.Header.Set("Authorization", "Basic "+basic)
	principal, err = service.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, IsSelfService(principal.Principal))
}

func TestAuthenticateNoCredential(t *testing.T) {
	service, _ := newTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := service.Authenticate(req)
	assert.ErrorIs(t, err, apierr.Unauthorized())
}
