package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/authn"
)

// fakeAuthN satisfies authn.Provider with a configurable id.
type fakeAuthN struct {
	id         string
	healthErr  error
	shutdowns  *atomic.Int32
	shutdownMS int
}

func (f *fakeAuthN) ID() string { return f.id }

func (f *fakeAuthN) Authenticate(context.Context, *authn.Request) (*authn.SessionContext, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAuthN) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeAuthN) Shutdown(context.Context) error {
	if f.shutdownMS > 0 {
		time.Sleep(time.Duration(f.shutdownMS) * time.Millisecond)
	}
	if f.shutdowns != nil {
		f.shutdowns.Add(1)
	}
	return nil
}

func TestRegisterAllowedProvider(t *testing.T) {
	r := NewRegistry()

	p := &fakeAuthN{id: "preshared-key"}
	require.NoError(t, r.Register(context.Background(), KindAuthN, p))

	got, err := r.AuthN("preshared-key")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRegisterUnlistedProviderFails(t *testing.T) {
	r := NewRegistry()

	err := r.Register(context.Background(), KindAuthN, &fakeAuthN{id: "oidc-experimental"})
	assert.True(t, apierror.IsKind(err, apierror.KindProviderNotAllowed))
}

func TestRegisterWrongInterfaceFails(t *testing.T) {
	r := NewRegistry()

	// An authn provider offered for the audit slot.
	err := r.Register(context.Background(), KindAudit, &fakeAuthN{id: "preshared-key"})
	assert.True(t, apierror.IsKind(err, apierror.KindProviderInvalid))
}

func TestRegisterUnhealthyProviderFails(t *testing.T) {
	r := NewRegistry()

	err := r.Register(context.Background(), KindAuthN, &fakeAuthN{
		id: "preshared-key", healthErr: errors.New("db unreachable"),
	})
	assert.True(t, apierror.IsKind(err, apierror.KindProviderUnhealthy))
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, KindAuthN, &fakeAuthN{id: "preshared-key"}))
	err := r.Register(ctx, KindAuthN, &fakeAuthN{id: "preshared-key"})
	assert.True(t, apierror.IsKind(err, apierror.KindConflict))
}

func TestGetUnregisteredProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.AuthZ("local-rbac")
	assert.True(t, apierror.IsKind(err, apierror.KindNotFound))
}

func TestShutdownRunsAllProviders(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var count atomic.Int32
	require.NoError(t, r.Register(ctx, KindAuthN, &fakeAuthN{id: "preshared-key", shutdowns: &count, shutdownMS: 20}))

	start := time.Now()
	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, int32(1), count.Load())
	assert.Less(t, time.Since(start), time.Second)
}
