package adminkey

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	dir := t.TempDir()
	return NewManager(s, dir), dir
}

func TestBootstrapFirstBoot(t *testing.T) {
	m, dir := newManager(t)
	ctx := context.Background()

	key, created, err := m.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, key)

	info, err := os.Stat(filepath.Join(dir, RecoveryTokenFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())

	// Second boot: nothing regenerated.
	key2, created, err := m.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, key2)
}

func TestRotateRequiresDualProof(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	key, _, err := m.Bootstrap(ctx)
	require.NoError(t, err)
	token, err := m.ReadRecoveryToken()
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := m.Rotate(ctx, "wrong", token)
		assert.True(t, apierror.IsKind(err, apierror.KindUnauthorized))
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := m.Rotate(ctx, key, "wrong")
		assert.True(t, apierror.IsKind(err, apierror.KindUnauthorized))
	})

	t.Run("dual proof succeeds and rotates both", func(t *testing.T) {
		newKey, err := m.Rotate(ctx, key, token)
		require.NoError(t, err)
		assert.NotEqual(t, key, newKey)

		newToken, err := m.ReadRecoveryToken()
		require.NoError(t, err)
		assert.NotEqual(t, token, newToken)

		// The old pair no longer rotates.
		_, err = m.Rotate(ctx, key, token)
		assert.True(t, apierror.IsKind(err, apierror.KindUnauthorized))

		// The new pair does.
		_, err = m.Rotate(ctx, newKey, newToken)
		assert.NoError(t, err)
	})
}
