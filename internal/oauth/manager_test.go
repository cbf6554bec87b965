package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
)

type oauthFixture struct {
	store     *store.Store
	manager   *Manager
	vault     *vault.Vault
	userID    string
	catalogID string
	tokenSrv  *httptest.Server
	// lastVerifier captures the code_verifier the token endpoint saw.
	lastVerifier string
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	fx := &oauthFixture{store: s}

	fx.tokenSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fx.lastVerifier = r.PostForm.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-123",
			"refresh_token": "rt-456",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(fx.tokenSrv.Close)

	u := &store.User{ID: uuid.NewString(), Username: "oauth-user", Status: store.UserActive}
	require.NoError(t, s.CreateUser(ctx, u))
	fx.userID = u.ID

	oauthConfig, err := json.Marshal(map[string]interface{}{
		"authorization_endpoint": "https://provider.example/authorize",
		"token_endpoint":         fx.tokenSrv.URL + "/token",
		"scopes":                 []string{"repo", "read:user"},
		"client_id_env":          "TEST_OAUTH_CLIENT_ID",
		"client_secret_env":      "TEST_OAUTH_CLIENT_SECRET",
	})
	require.NoError(t, err)

	entry := &store.CatalogEntry{
		ID: uuid.NewString(), Name: "github", Transport: store.TransportHTTP,
		Config: `{"url":"https://gh.example/mcp"}`, Isolation: store.IsolationPerUser,
		RequiresUserCredentials: true, AuthType: "oauth2",
		OAuthConfig: string(oauthConfig), Status: store.CatalogPublished,
	}
	require.NoError(t, s.CreateCatalogEntry(ctx, entry))
	fx.catalogID = entry.ID

	t.Setenv("TEST_OAUTH_CLIENT_ID", "client-abc")
	t.Setenv("TEST_OAUTH_CLIENT_SECRET", "secret-xyz")

	master, err := vault.GenerateMasterKey()
	require.NoError(t, err)
	fx.vault, err = vault.New(master)
	require.NoError(t, err)

	fx.manager = NewManager(s, fx.vault, 10*time.Minute)
	return fx
}

func TestGeneratePKCE(t *testing.T) {
	verifier, challenge, err := GeneratePKCE()
	require.NoError(t, err)

	// 64 random bytes -> 86 base64url characters.
	assert.Len(t, verifier, 86)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)

	verifier2, _, err := GeneratePKCE()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, verifier2)
}

func TestGenerateAuthorizationURL(t *testing.T) {
	fx := newOAuthFixture(t)

	authURL, state, err := fx.manager.GenerateAuthorizationURL(
		context.Background(), fx.userID, fx.catalogID, "https://amb.example/v1/oauth/callback")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-abc", q.Get("client_id"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Contains(t, q.Get("scope"), "repo")
	assert.Equal(t, "https://amb.example/v1/oauth/callback", q.Get("redirect_uri"))
}

func TestExtraParamsCollisionRejected(t *testing.T) {
	fx := newOAuthFixture(t)
	ctx := context.Background()

	entry, err := fx.store.GetCatalogEntry(ctx, fx.catalogID)
	require.NoError(t, err)
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entry.OAuthConfig), &cfg))
	cfg["extra_params"] = map[string]string{"state": "attacker-controlled"}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	_, err = fx.store.DB().Exec(`UPDATE mcp_catalog SET oauth_config = ? WHERE id = ?`, string(raw), fx.catalogID)
	require.NoError(t, err)

	_, _, err = fx.manager.GenerateAuthorizationURL(ctx, fx.userID, fx.catalogID, "https://amb.example/cb")
	assert.True(t, apierror.IsKind(err, apierror.KindValidation))
}

func TestExchangeCodeForTokensRoundTrip(t *testing.T) {
	fx := newOAuthFixture(t)
	ctx := context.Background()

	_, state, err := fx.manager.GenerateAuthorizationURL(ctx, fx.userID, fx.catalogID, "https://amb.example/cb")
	require.NoError(t, err)

	tokens, userID, catalogID, err := fx.manager.ExchangeCodeForTokens(ctx, state, "auth-code-1")
	require.NoError(t, err)
	assert.Equal(t, "at-123", tokens.AccessToken)
	assert.Equal(t, "rt-456", tokens.RefreshToken)
	assert.Equal(t, fx.userID, userID)
	assert.Equal(t, fx.catalogID, catalogID)
	assert.NotEmpty(t, fx.lastVerifier, "token endpoint must receive the code_verifier")

	// The credential is stored encrypted and decrypts back to the tokens.
	cred, err := fx.store.GetUserCredential(ctx, fx.userID, fx.catalogID)
	require.NoError(t, err)
	assert.Equal(t, "oauth2", cred.CredentialType)
	assert.Equal(t, "success", cred.OAuthStatus)
	assert.NotContains(t, string(cred.Ciphertext), "at-123")

	stored, err := fx.manager.loadTokens(ctx, fx.userID, fx.catalogID)
	require.NoError(t, err)
	assert.Equal(t, "at-123", stored.AccessToken)

	// A second exchange with the same state is invalid_state.
	_, _, _, err = fx.manager.ExchangeCodeForTokens(ctx, state, "auth-code-1")
	assert.True(t, apierror.IsKind(err, apierror.KindInvalidState))
}

func TestExchangeUnknownState(t *testing.T) {
	fx := newOAuthFixture(t)

	_, _, _, err := fx.manager.ExchangeCodeForTokens(context.Background(), "never-issued", "code")
	assert.True(t, apierror.IsKind(err, apierror.KindInvalidState))
}

func TestRefreshAccessToken(t *testing.T) {
	fx := newOAuthFixture(t)

	cfg := &ProviderConfig{
		TokenEndpoint: fx.tokenSrv.URL + "/token",
		ClientIDEnv:   "TEST_OAUTH_CLIENT_ID",
	}
	tokens, err := fx.manager.RefreshAccessToken(context.Background(), cfg, "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-123", tokens.AccessToken)
	assert.Equal(t, "rt-456", tokens.RefreshToken)
}

func TestRevokeTokensNeverRaises(t *testing.T) {
	fx := newOAuthFixture(t)

	// Revocation endpoint that always errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &ProviderConfig{
		TokenEndpoint:      "https://unused.example/token",
		RevocationEndpoint: srv.URL + "/revoke",
		ClientIDEnv:        "TEST_OAUTH_CLIENT_ID",
	}
	// Must not panic or error.
	fx.manager.RevokeTokens(context.Background(), cfg, "at", "rt")
}

func TestStatusLifecycle(t *testing.T) {
	fx := newOAuthFixture(t)
	ctx := context.Background()

	status, err := fx.manager.Status(ctx, fx.userID, fx.catalogID)
	require.NoError(t, err)
	assert.Equal(t, "disconnected", status)

	_, state, err := fx.manager.GenerateAuthorizationURL(ctx, fx.userID, fx.catalogID, "https://amb.example/cb")
	require.NoError(t, err)
	_, _, _, err = fx.manager.ExchangeCodeForTokens(ctx, state, "code")
	require.NoError(t, err)

	status, err = fx.manager.Status(ctx, fx.userID, fx.catalogID)
	require.NoError(t, err)
	assert.Equal(t, "success", status)

	require.NoError(t, fx.manager.Disconnect(ctx, fx.userID, fx.catalogID))
	status, err = fx.manager.Status(ctx, fx.userID, fx.catalogID)
	require.NoError(t, err)
	assert.Equal(t, "disconnected", status)
}

func TestCleanupExpiredStates(t *testing.T) {
	fx := newOAuthFixture(t)
	ctx := context.Background()

	_, state, err := fx.manager.GenerateAuthorizationURL(ctx, fx.userID, fx.catalogID, "https://amb.example/cb")
	require.NoError(t, err)

	// Move the manager's clock past the TTL.
	fx.manager.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	n, err := fx.store.CleanupExpiredOAuthStates(ctx, fx.manager.now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, _, err = fx.manager.ExchangeCodeForTokens(ctx, state, "code")
	assert.True(t, apierror.IsKind(err, apierror.KindInvalidState))
}
