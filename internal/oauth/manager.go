// Package oauth implements the authorization-code + PKCE flow against the
// OAuth providers of downstream tool servers. Pending authorizations live in
// the oauth_states table with a ten-minute TTL and are consumed atomically;
// provider secrets are resolved from the environment at call time and never
// persisted.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
	"github.com/mcpambassador/server/pkg/logging"
)

// reservedParams are the OAuth parameters composed by the manager itself;
// caller-supplied extra_params may not collide with them.
var reservedParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
	"scope":                 true,
}

// ProviderConfig is the decoded oauth_config blob of a catalog entry.
type ProviderConfig struct {
	AuthorizationEndpoint string            `json:"authorization_endpoint"`
	TokenEndpoint         string            `json:"token_endpoint"`
	RevocationEndpoint    string            `json:"revocation_endpoint,omitempty"`
	Scopes                []string          `json:"scopes,omitempty"`
	ClientIDEnv           string            `json:"client_id_env"`
	ClientSecretEnv       string            `json:"client_secret_env,omitempty"`
	ExtraParams           map[string]string `json:"extra_params,omitempty"`
}

// ParseProviderConfig decodes and sanity-checks an oauth_config blob.
func ParseProviderConfig(raw string) (*ProviderConfig, error) {
	if raw == "" {
		return nil, apierror.New(apierror.KindValidation, "catalog entry has no oauth configuration")
	}
	var cfg ProviderConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, apierror.Wrap(apierror.KindValidation, err, "invalid oauth configuration")
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" || cfg.ClientIDEnv == "" {
		return nil, apierror.New(apierror.KindValidation,
			"oauth configuration requires authorization_endpoint, token_endpoint and client_id_env")
	}
	return &cfg, nil
}

// resolveSecrets reads the provider client credentials from the environment.
// They are looked up on every call and never stored.
func (c *ProviderConfig) resolveSecrets() (clientID, clientSecret string, err error) {
	clientID = os.Getenv(c.ClientIDEnv)
	if clientID == "" {
		return "", "", apierror.New(apierror.KindInternal,
			"oauth client id environment variable %s is not set", c.ClientIDEnv)
	}
	if c.ClientSecretEnv != "" {
		clientSecret = os.Getenv(c.ClientSecretEnv)
	}
	return clientID, clientSecret, nil
}

// TokenSet is a provider token response. Its JSON form is what the vault
// encrypts, and the access_token field is what the pool injects as a bearer
// header.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Manager drives the PKCE flow and the state table.
type Manager struct {
	store *store.Store
	vault *vault.Vault

	stateTTL time.Duration
	now      func() time.Time

	// httpClient is injected into the oauth2 exchanges, overridable in
	// tests.
	httpClient *http.Client

	stopCleanup chan struct{}
}

// NewManager creates an OAuth manager.
func NewManager(st *store.Store, v *vault.Vault, stateTTL time.Duration) *Manager {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Manager{
		store:       st,
		vault:       v,
		stateTTL:    stateTTL,
		now:         time.Now,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		stopCleanup: make(chan struct{}),
	}
}

// GenerateAuthorizationURL starts a flow for (user, catalog entry): creates
// state and PKCE material, persists the pending state row, and composes the
// provider authorization URL.
func (m *Manager) GenerateAuthorizationURL(ctx context.Context, userID, catalogID, redirectURI string) (authURL, state string, err error) {
	entry, err := m.store.GetCatalogEntry(ctx, catalogID)
	if err != nil {
		return "", "", err
	}
	cfg, err := ParseProviderConfig(entry.OAuthConfig)
	if err != nil {
		return "", "", err
	}
	for key := range cfg.ExtraParams {
		if reservedParams[key] {
			return "", "", apierror.New(apierror.KindValidation,
				"extra oauth parameter %q collides with a reserved parameter", key)
		}
	}

	clientID, _, err := cfg.resolveSecrets()
	if err != nil {
		return "", "", err
	}

	state, err = GenerateState()
	if err != nil {
		return "", "", err
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return "", "", err
	}

	now := m.now().UTC()
	if err := m.store.InsertOAuthState(ctx, &store.OAuthState{
		State: state, UserID: userID, CatalogID: catalogID,
		CodeVerifier: verifier, RedirectURI: redirectURI,
		CreatedAt: now, ExpiresAt: now.Add(m.stateTTL),
	}); err != nil {
		return "", "", err
	}

	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		},
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	for key, val := range cfg.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, val))
	}

	logging.Debug("OAuth", "Generated authorization URL for user %s server %s", userID, entry.Name)
	return conf.AuthCodeURL(state, opts...), state, nil
}

// ExchangeCodeForTokens consumes the state row (at most once) and trades
// the authorization code for a token set, which is encrypted into the
// user's credential store.
func (m *Manager) ExchangeCodeForTokens(ctx context.Context, state, code string) (*TokenSet, string, string, error) {
	row, err := m.store.ConsumeOAuthState(ctx, state, m.now())
	if err != nil {
		return nil, "", "", err
	}

	entry, err := m.store.GetCatalogEntry(ctx, row.CatalogID)
	if err != nil {
		return nil, "", "", err
	}
	cfg, err := ParseProviderConfig(entry.OAuthConfig)
	if err != nil {
		return nil, "", "", err
	}
	clientID, clientSecret, err := cfg.resolveSecrets()
	if err != nil {
		return nil, "", "", err
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  row.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		},
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := conf.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", row.CodeVerifier))
	if err != nil {
		return nil, "", "", apierror.Wrap(apierror.KindServiceUnavailable, err, "token exchange failed")
	}

	tokens := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}

	if err := m.storeTokens(ctx, row.UserID, row.CatalogID, tokens); err != nil {
		return nil, "", "", err
	}

	logging.Info("OAuth", "Stored oauth credential for user %s server %s", row.UserID, entry.Name)
	return tokens, row.UserID, row.CatalogID, nil
}

// storeTokens encrypts the token set under the user's vault key and upserts
// the credential row.
func (m *Manager) storeTokens(ctx context.Context, userID, catalogID string, tokens *TokenSet) error {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(user.VaultSalt) == 0 {
		salt, err := vault.NewSalt()
		if err != nil {
			return err
		}
		if err := m.store.SetUserVaultSalt(ctx, userID, salt); err != nil {
			return err
		}
		user.VaultSalt = salt
	}

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	ciphertext, iv, err := m.vault.Encrypt(user.VaultSalt, plaintext)
	if err != nil {
		return err
	}

	cred := &store.UserCredential{
		UserID: userID, CatalogID: catalogID,
		Ciphertext: ciphertext, IV: iv,
		CredentialType: "oauth2", OAuthStatus: "success",
	}
	if !tokens.Expiry.IsZero() {
		expiry := tokens.Expiry
		cred.ExpiresAt = &expiry
	}
	return m.store.UpsertUserCredential(ctx, cred)
}

// RefreshAccessToken trades a refresh token for a fresh token set. The
// provider may rotate the refresh token; callers must persist the returned
// set.
func (m *Manager) RefreshAccessToken(ctx context.Context, cfg *ProviderConfig, refreshToken string) (*TokenSet, error) {
	clientID, clientSecret, err := cfg.resolveSecrets()
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenEndpoint},
	}

	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := conf.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, apierror.Wrap(apierror.KindServiceUnavailable, err, "token refresh failed")
	}

	out := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// RevokeTokens best-effort revokes the given tokens at the provider's
// revocation endpoint. Never returns an error: revocation failures are
// logged and swallowed.
func (m *Manager) RevokeTokens(ctx context.Context, cfg *ProviderConfig, accessToken, refreshToken string) {
	if cfg.RevocationEndpoint == "" {
		return
	}
	clientID, clientSecret, err := cfg.resolveSecrets()
	if err != nil {
		logging.Warn("OAuth", "Skipping revocation: %v", err)
		return
	}

	for _, tok := range []struct{ kind, value string }{
		{"access_token", accessToken},
		{"refresh_token", refreshToken},
	} {
		if tok.value == "" {
			continue
		}
		form := url.Values{
			"token":           {tok.value},
			"token_type_hint": {tok.kind},
			"client_id":       {clientID},
		}
		if clientSecret != "" {
			form.Set("client_secret", clientSecret)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevocationEndpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			logging.Warn("OAuth", "Failed to build revocation request: %v", err)
			continue
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			logging.Warn("OAuth", "Revocation of %s failed: %v", tok.kind, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			logging.Warn("OAuth", "Revocation of %s returned %d", tok.kind, resp.StatusCode)
		}
	}
}

// Disconnect revokes and deletes a user's oauth credential for a catalog
// entry.
func (m *Manager) Disconnect(ctx context.Context, userID, catalogID string) error {
	entry, err := m.store.GetCatalogEntry(ctx, catalogID)
	if err != nil {
		return err
	}

	if cfg, cfgErr := ParseProviderConfig(entry.OAuthConfig); cfgErr == nil {
		if tokens, tokErr := m.loadTokens(ctx, userID, catalogID); tokErr == nil {
			m.RevokeTokens(ctx, cfg, tokens.AccessToken, tokens.RefreshToken)
		}
	}

	return m.store.DeleteUserCredential(ctx, userID, catalogID)
}

// loadTokens decrypts the stored token set for (user, catalog entry).
func (m *Manager) loadTokens(ctx context.Context, userID, catalogID string) (*TokenSet, error) {
	cred, err := m.store.GetUserCredential(ctx, userID, catalogID)
	if err != nil {
		return nil, err
	}
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	plaintext, err := m.vault.Decrypt(user.VaultSalt, cred.Ciphertext, cred.IV)
	if err != nil {
		return nil, err
	}
	var tokens TokenSet
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("stored token set is malformed: %w", err)
	}
	return &tokens, nil
}

// Status reports the oauth connection status for (user, catalog entry).
func (m *Manager) Status(ctx context.Context, userID, catalogID string) (string, error) {
	cred, err := m.store.GetUserCredential(ctx, userID, catalogID)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return "disconnected", nil
		}
		return "", err
	}
	if cred.ExpiresAt != nil && m.now().After(*cred.ExpiresAt) {
		return "expired", nil
	}
	if cred.OAuthStatus != "" {
		return cred.OAuthStatus, nil
	}
	return "connected", nil
}

// StartCleanupLoop purges expired state rows on an interval until ctx ends.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCleanup:
				return
			case <-ticker.C:
				if n, err := m.store.CleanupExpiredOAuthStates(ctx, m.now()); err != nil {
					logging.Error("OAuth", err, "State cleanup failed")
				} else if n > 0 {
					logging.Debug("OAuth", "Cleaned up %d expired oauth state(s)", n)
				}
			}
		}
	}()
}

// StopCleanupLoop stops the cleanup loop.
func (m *Manager) StopCleanupLoop() {
	close(m.stopCleanup)
}
