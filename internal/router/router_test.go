package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/mcpclient"
	"github.com/mcpambassador/server/internal/pool"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
)

// routerFixture wires a real shared manager and user pool over fake
// connections.
type routerFixture struct {
	store  *store.Store
	router *Router
}

// fakeRouterConn is a minimal in-memory connection for router tests.
type fakeRouterConn struct {
	name    string
	tools   []mcp.Tool
	results map[string]string
	started bool
}

func (f *fakeRouterConn) Name() string                          { return f.name }
func (f *fakeRouterConn) Start(context.Context) error           { f.started = true; return nil }
func (f *fakeRouterConn) Stop() error                           { f.started = false; return nil }
func (f *fakeRouterConn) IsConnected() bool                     { return f.started }
func (f *fakeRouterConn) HealthCheck(context.Context) error     { return nil }
func (f *fakeRouterConn) GetTools(context.Context) ([]mcp.Tool, error) { return f.tools, nil }

func (f *fakeRouterConn) InvokeTool(_ context.Context, name string, _ map[string]interface{}) (*mcp.CallToolResult, error) {
	if out, ok := f.results[name]; ok {
		return mcp.NewToolResultText(out), nil
	}
	return mcp.NewToolResultText("from:" + f.name), nil
}

func (f *fakeRouterConn) History() mcpclient.HistorySnapshot { return mcpclient.HistorySnapshot{} }
func (f *fakeRouterConn) OnDisconnect(func(string))          {}
func (f *fakeRouterConn) OnError(func(string, error))        {}

type routerFactory struct {
	conns map[string]*fakeRouterConn
}

func (f *routerFactory) New(entry *store.CatalogEntry, _, _ map[string]string) (mcpclient.Connection, error) {
	if conn, ok := f.conns[entry.Name]; ok {
		return conn, nil
	}
	conn := &fakeRouterConn{name: entry.Name, tools: []mcp.Tool{{Name: entry.Name + ".run"}}}
	f.conns[entry.Name] = conn
	return conn, nil
}

func newRouterFixture(t *testing.T) (*routerFixture, *routerFactory, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	factory := &routerFactory{conns: make(map[string]*fakeRouterConn)}
	cfg := config.PoolConfig{
		MaxPerUser: 8, MaxTotal: 64,
		SpawnWaitTimeout: time.Second, DefaultInvokeTimeout: time.Second,
		HealthCheckInterval: time.Minute,
	}

	master, err := vault.GenerateMasterKey()
	require.NoError(t, err)
	v, err := vault.New(master)
	require.NoError(t, err)

	shared := pool.NewSharedManager(s, factory, cfg)
	users := pool.NewUserPool(s, v, factory, cfg)

	// One shared server and one per-user server; both expose a tool named
	// "overlap.tool" so precedence is observable.
	require.NoError(t, s.CreateCatalogEntry(ctx, &store.CatalogEntry{
		ID: uuid.NewString(), Name: "shared-srv", Transport: store.TransportStdio,
		Config: `{"command":"fake"}`, Isolation: store.IsolationShared,
		AuthType: "none", Status: store.CatalogPublished,
	}))
	factory.conns["shared-srv"] = &fakeRouterConn{
		name:    "shared-srv",
		tools:   []mcp.Tool{{Name: "overlap.tool"}, {Name: "shared.only"}},
		results: map[string]string{"overlap.tool": "shared-wins"},
	}

	u := &store.User{ID: uuid.NewString(), Username: "alice", Status: store.UserActive}
	require.NoError(t, s.CreateUser(ctx, u))
	groupID := uuid.NewString()
	require.NoError(t, s.AddGroup(ctx, groupID, store.AllUsersGroup))
	entry := &store.CatalogEntry{
		ID: uuid.NewString(), Name: "user-srv", Transport: store.TransportStdio,
		Config: `{"command":"fake"}`, Isolation: store.IsolationPerUser,
		AuthType: "none", Status: store.CatalogPublished,
	}
	require.NoError(t, s.CreateCatalogEntry(ctx, entry))
	require.NoError(t, s.GrantGroupAccess(ctx, entry.ID, groupID))
	factory.conns["user-srv"] = &fakeRouterConn{
		name:    "user-srv",
		tools:   []mcp.Tool{{Name: "overlap.tool"}, {Name: "user.only"}},
		results: map[string]string{"overlap.tool": "user-loses"},
	}

	require.NoError(t, shared.Start(ctx))

	return &routerFixture{store: s, router: New(shared, users)}, factory, u.ID
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestCatalogMergeSharedPrecedence(t *testing.T) {
	fx, _, userID := newRouterFixture(t)
	require.NoError(t, fx.router.EnsureUser(context.Background(), userID))

	names := map[string]int{}
	for _, tool := range fx.router.Catalog(userID) {
		names[tool.Name]++
	}

	assert.Equal(t, 1, names["overlap.tool"], "conflicting name appears once")
	assert.Equal(t, 1, names["shared.only"])
	assert.Equal(t, 1, names["user.only"])
}

func TestInvokeSharedPrecedence(t *testing.T) {
	fx, _, userID := newRouterFixture(t)
	ctx := context.Background()

	result, err := fx.router.Invoke(ctx, userID, "overlap.tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "shared-wins", textOf(t, result))

	result, err = fx.router.Invoke(ctx, userID, "user.only", nil)
	require.NoError(t, err)
	assert.Equal(t, "from:user-srv", textOf(t, result))
}

func TestInvokeUnknownToolNotFound(t *testing.T) {
	fx, _, userID := newRouterFixture(t)

	_, err := fx.router.Invoke(context.Background(), userID, "ghost.tool", nil)
	assert.True(t, apierror.IsKind(err, apierror.KindNotFound))
}
