package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/killswitch"
	"github.com/mcpambassador/server/internal/mcpclient"
	"github.com/mcpambassador/server/internal/oauth"
	"github.com/mcpambassador/server/internal/pipeline"
	"github.com/mcpambassador/server/internal/pool"
	"github.com/mcpambassador/server/internal/ratelimit"
	"github.com/mcpambassador/server/internal/router"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/validate"
	"github.com/mcpambassador/server/internal/vault"
)

// echoConn is a fake downstream connection exposing echo.hello.
type echoConn struct{ started bool }

func (c *echoConn) Name() string                      { return "echo" }
func (c *echoConn) Start(context.Context) error       { c.started = true; return nil }
func (c *echoConn) Stop() error                       { c.started = false; return nil }
func (c *echoConn) IsConnected() bool                 { return c.started }
func (c *echoConn) HealthCheck(context.Context) error { return nil }

func (c *echoConn) GetTools(context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "echo.hello", Description: "echoes"}}, nil
}

func (c *echoConn) InvokeTool(_ context.Context, _ string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	msg, _ := args["msg"].(string)
	return mcp.NewToolResultText("echo:" + msg), nil
}

func (c *echoConn) History() mcpclient.HistorySnapshot { return mcpclient.HistorySnapshot{} }
func (c *echoConn) OnDisconnect(func(string))          {}
func (c *echoConn) OnError(func(string, error))        {}

type echoFactory struct{}

func (echoFactory) New(entry *store.CatalogEntry, _, _ map[string]string) (mcpclient.Connection, error) {
	return &echoConn{}, nil
}

type apiFixture struct {
	srv          *httptest.Server
	presharedKey string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	// Seed: profile allowing echo.*, a user, its client, and one per-user
	// echo server visible to everyone.
	prof := &store.ToolProfile{
		ID: uuid.NewString(), Name: "echo-profile", AllowPatterns: []string{"echo.*"},
	}
	require.NoError(t, st.CreateProfile(ctx, prof))

	u := &store.User{ID: uuid.NewString(), Username: "alice", Status: store.UserActive}
	require.NoError(t, st.CreateUser(ctx, u))

	key, prefix, hash, err := authn.GeneratePresharedKey()
	require.NoError(t, err)
	require.NoError(t, st.CreateClient(ctx, &store.Client{
		ID: uuid.NewString(), UserID: u.ID, KeyPrefix: prefix, SecretHash: hash,
		ProfileID: prof.ID, Status: store.ClientActive,
	}))

	groupID := uuid.NewString()
	require.NoError(t, st.AddGroup(ctx, groupID, store.AllUsersGroup))
	entry := &store.CatalogEntry{
		ID: uuid.NewString(), Name: "echo", Transport: store.TransportStdio,
		Config: `{"command":"echo-server"}`, Isolation: store.IsolationPerUser,
		AuthType: "none", Status: store.CatalogPublished,
	}
	require.NoError(t, st.CreateCatalogEntry(ctx, entry))
	require.NoError(t, st.GrantGroupAccess(ctx, entry.ID, groupID))

	master, err := vault.GenerateMasterKey()
	require.NoError(t, err)
	v, err := vault.New(master)
	require.NoError(t, err)

	factory := echoFactory{}
	shared := pool.NewSharedManager(st, factory, cfg.Pool)
	users := pool.NewUserPool(st, v, factory, cfg.Pool)
	require.NoError(t, shared.Start(ctx))
	rt := router.New(shared, users)

	sink := audit.NewStoreSink(st)
	auditor := audit.NewService(sink, audit.ModeBuffer, 100)

	authnProvider := authn.NewPresharedKeyProvider(st)
	authzProvider := authz.NewLocalRBACProvider(st)
	limits := func(ctx context.Context, profileID string) (ratelimit.Limits, error) {
		perMin, perHour, maxConc, err := authzProvider.Limits(ctx, profileID)
		if err != nil {
			return ratelimit.Limits{}, err
		}
		return ratelimit.Limits{PerMinute: perMin, PerHour: perHour, MaxConcurrent: maxConc}, nil
	}

	p := pipeline.New(authnProvider, authzProvider, auditor, validate.New(), rt,
		killswitch.New(), ratelimit.New(), limits, st)

	om := oauth.NewManager(st, v, cfg.OAuth.StateTTL)
	api := New(cfg, st, p, rt, users, om)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{srv: srv, presharedKey: key}
}

func (fx *apiFixture) register(t *testing.T) registerResponse {
	t.Helper()
	body, _ := json.Marshal(registerRequest{
		PresharedKey: fx.presharedKey, FriendlyName: "laptop", HostTool: "test-agent",
	})
	resp, err := http.Post(fx.srv.URL+"/v1/sessions/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out registerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (fx *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, fx.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestRegisterListInvoke(t *testing.T) {
	fx := newAPIFixture(t)
	reg := fx.register(t)
	assert.NotEmpty(t, reg.SessionToken)
	assert.NotEmpty(t, reg.ConnectionID)

	// List tools.
	resp := fx.do(t, http.MethodGet, "/v1/tools", reg.SessionToken, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list listToolsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "echo.hello", list.Tools[0].Name)
	assert.Equal(t, "echo", list.Tools[0].Metadata["mcp_server"])
	assert.Equal(t, APIVersion, list.APIVersion)

	// Invoke.
	resp = fx.do(t, http.MethodPost, "/v1/tools/invoke", reg.SessionToken,
		invokeRequest{Tool: "echo.hello", Arguments: map[string]interface{}{"msg": "hi"}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var inv invokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inv))
	assert.NotEmpty(t, inv.RequestID)
	require.NotNil(t, inv.Result)
}

// P7 end-to-end: re-registering replaces the token; the old token gets 401.
func TestReRegisterInvalidatesOldToken(t *testing.T) {
	fx := newAPIFixture(t)
	first := fx.register(t)
	second := fx.register(t)

	assert.Equal(t, first.SessionID, second.SessionID, "session row is reused")
	assert.NotEqual(t, first.SessionToken, second.SessionToken)

	resp := fx.do(t, http.MethodGet, "/v1/tools", first.SessionToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = fx.do(t, http.MethodGet, "/v1/tools", second.SessionToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnauthorizedRequests(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.do(t, http.MethodGet, "/v1/tools", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = fx.do(t, http.MethodGet, "/v1/tools", "ambs_forged", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Bad preshared key on register.
	body, _ := json.Marshal(registerRequest{PresharedKey: "amb_x_y", FriendlyName: "h"})
	r2, err := http.Post(fx.srv.URL+"/v1/sessions/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r2.StatusCode)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	fx := newAPIFixture(t)

	resp, err := http.Get(fx.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "max-age=31536000; includeSubDomains", resp.Header.Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestHealthRevealsNoTopology(t *testing.T) {
	fx := newAPIFixture(t)

	resp, err := http.Get(fx.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]interface{}{"status": "ok"}, body)
}

func TestHeartbeatAndDisconnect(t *testing.T) {
	fx := newAPIFixture(t)
	reg := fx.register(t)

	resp := fx.do(t, http.MethodPost, "/v1/sessions/heartbeat", reg.SessionToken,
		heartbeatRequest{ConnectionID: reg.ConnectionID})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fx.do(t, http.MethodDelete, "/v1/sessions/connections/"+reg.ConnectionID, reg.SessionToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Heartbeating a disconnected-but-existing connection reconnects it;
	// an unknown one is 404.
	resp = fx.do(t, http.MethodPost, "/v1/sessions/heartbeat", reg.SessionToken,
		heartbeatRequest{ConnectionID: "nope"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnsupportedMediaType(t *testing.T) {
	fx := newAPIFixture(t)
	reg := fx.register(t)

	req, err := http.NewRequest(http.MethodPost, fx.srv.URL+"/v1/tools/invoke",
		bytes.NewReader([]byte("tool=echo.hello")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+reg.SessionToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestOAuthCallbackAlwaysRedirects(t *testing.T) {
	fx := newAPIFixture(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Get(fx.srv.URL + "/v1/oauth/callback?state=never-issued&code=x")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "status=error")
	assert.Contains(t, resp.Header.Get("Location"), "reason=invalid_state")

	resp, err = client.Get(fx.srv.URL + "/v1/oauth/callback")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "reason=invalid_request")
}

func TestInvokeDenied(t *testing.T) {
	fx := newAPIFixture(t)
	reg := fx.register(t)

	resp := fx.do(t, http.MethodPost, "/v1/tools/invoke", reg.SessionToken,
		invokeRequest{Tool: "slack.post"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Access denied", body["error"]["message"])
}
