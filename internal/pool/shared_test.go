package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/store"
)

func newSharedFixture(t *testing.T) (*store.Store, *SharedManager, *fakeFactory) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	factory := newFakeFactory()
	m := NewSharedManager(s, factory, config.PoolConfig{
		DefaultInvokeTimeout: time.Second,
		HealthCheckInterval:  time.Minute,
	})
	return s, m, factory
}

func seedSharedEntry(t *testing.T, s *store.Store, name, status string) {
	t.Helper()
	require.NoError(t, s.CreateCatalogEntry(context.Background(), &store.CatalogEntry{
		ID: uuid.NewString(), Name: name, Transport: store.TransportStdio,
		Config: `{"command":"fake"}`, Isolation: store.IsolationShared,
		AuthType: "none", Status: status,
	}))
}

func TestSharedManagerStartsPublishedEntries(t *testing.T) {
	s, m, _ := newSharedFixture(t)
	seedSharedEntry(t, s, "weather", store.CatalogPublished)
	seedSharedEntry(t, s, "draft-server", store.CatalogDraft)

	require.NoError(t, m.Start(context.Background()))

	catalog := m.Catalog()
	require.Len(t, catalog, 1)
	assert.Equal(t, "weather.run", catalog[0].Name)
	assert.True(t, m.Owns("weather.run"))
	assert.False(t, m.Owns("draft-server.run"))
}

func TestSharedManagerSkipsFailedServers(t *testing.T) {
	s, m, factory := newSharedFixture(t)
	seedSharedEntry(t, s, "good", store.CatalogPublished)
	seedSharedEntry(t, s, "broken", store.CatalogPublished)
	factory.set("broken", &fakeConn{name: "broken", startErr: errors.New("no binary")})

	require.NoError(t, m.Start(context.Background()))

	assert.True(t, m.Owns("good.run"))
	assert.False(t, m.Owns("broken.run"))
}

func TestSharedManagerInvoke(t *testing.T) {
	s, m, factory := newSharedFixture(t)
	seedSharedEntry(t, s, "weather", store.CatalogPublished)
	factory.set("weather", &fakeConn{name: "weather", tools: []mcp.Tool{{Name: "weather.lookup"}}})

	require.NoError(t, m.Start(context.Background()))

	result, err := m.Invoke(context.Background(), "weather.lookup", map[string]interface{}{"city": "Berlin"})
	require.NoError(t, err)
	require.NotNil(t, result)

	_, err = m.Invoke(context.Background(), "nope", nil)
	assert.True(t, apierror.IsKind(err, apierror.KindNotFound))
}

func TestSharedManagerStopTearsDown(t *testing.T) {
	s, m, factory := newSharedFixture(t)
	seedSharedEntry(t, s, "weather", store.CatalogPublished)

	require.NoError(t, m.Start(context.Background()))
	m.Stop(context.Background())

	assert.True(t, factory.conns["weather"].stopped)
	assert.Empty(t, m.Catalog())
}
