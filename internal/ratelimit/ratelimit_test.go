package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
)

func TestUnlimitedByDefault(t *testing.T) {
	l := New()

	for i := 0; i < 100; i++ {
		release, err := l.Acquire("c1", Limits{})
		require.NoError(t, err)
		release()
	}
}

func TestPerMinuteBudget(t *testing.T) {
	l := New()
	limits := Limits{PerMinute: 3}

	for i := 0; i < 3; i++ {
		release, err := l.Acquire("c1", limits)
		require.NoError(t, err, "request %d", i)
		release()
	}

	_, err := l.Acquire("c1", limits)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindRateLimited))
	assert.Equal(t, 60, apierror.MetadataOf(err)["retry_after_seconds"])

	// A different client has its own budget.
	release, err := l.Acquire("c2", limits)
	require.NoError(t, err)
	release()
}

func TestMaxConcurrent(t *testing.T) {
	l := New()
	limits := Limits{MaxConcurrent: 2}

	r1, err := l.Acquire("c1", limits)
	require.NoError(t, err)
	r2, err := l.Acquire("c1", limits)
	require.NoError(t, err)

	_, err = l.Acquire("c1", limits)
	assert.True(t, apierror.IsKind(err, apierror.KindRateLimited))

	r1()
	r3, err := l.Acquire("c1", limits)
	require.NoError(t, err)

	r2()
	r3()
}

func TestForgetResetsState(t *testing.T) {
	l := New()
	limits := Limits{PerMinute: 1}

	release, err := l.Acquire("c1", limits)
	require.NoError(t, err)
	release()
	_, err = l.Acquire("c1", limits)
	require.Error(t, err)

	l.Forget("c1")
	release, err = l.Acquire("c1", limits)
	require.NoError(t, err)
	release()
}
