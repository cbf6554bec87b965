// Package provider manages the pluggable AAA providers. The set of loadable
// providers is a closed allow-list; registration validates the kind-specific
// interface and gates on a health check, and shutdown fans out to every
// provider in parallel.
package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/authn"
	"github.com/mcpambassador/server/internal/authz"
	"github.com/mcpambassador/server/pkg/logging"
)

// Kind identifies a provider slot.
type Kind string

const (
	KindAuthN Kind = "authn"
	KindAuthZ Kind = "authz"
	KindAudit Kind = "audit"
)

// defaultAllowList is the closed set of provider ids that may be loaded.
// There is no dynamic loading: anything not listed here fails with
// provider_not_allowed.
var defaultAllowList = map[Kind]map[string]bool{
	KindAuthN: {"preshared-key": true},
	KindAuthZ: {"local-rbac": true},
	KindAudit: {"file": true, "store": true},
}

// HealthChecker is implemented by providers that can report readiness.
// Registration fails if the check fails.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Shutdowner is implemented by providers that hold resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Registry holds the named provider instances for each kind.
type Registry struct {
	mu        sync.RWMutex
	allowList map[Kind]map[string]bool
	providers map[Kind]map[string]interface{}
}

// NewRegistry creates a registry with the default allow-list.
func NewRegistry() *Registry {
	return &Registry{
		allowList: defaultAllowList,
		providers: map[Kind]map[string]interface{}{
			KindAuthN: {},
			KindAuthZ: {},
			KindAudit: {},
		},
	}
}

// Register validates and installs a provider instance. The provider must be
// on the allow-list for its kind, satisfy the kind's interface, and pass its
// health check if it has one.
func (r *Registry) Register(ctx context.Context, kind Kind, p interface{}) error {
	id, err := validateInterface(kind, p)
	if err != nil {
		return err
	}

	r.mu.RLock()
	allowed := r.allowList[kind][id]
	r.mu.RUnlock()
	if !allowed {
		return apierror.New(apierror.KindProviderNotAllowed, "provider %s/%s is not on the allow-list", kind, id)
	}

	if hc, ok := p.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return apierror.Wrap(apierror.KindProviderUnhealthy, err, "provider %s/%s failed health check", kind, id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[kind][id]; exists {
		return apierror.New(apierror.KindConflict, "provider %s/%s already registered", kind, id)
	}
	r.providers[kind][id] = p

	logging.Info("Providers", "Registered %s provider %s", kind, id)
	return nil
}

// validateInterface enforces the kind-specific method set and a non-empty
// id. Returns the provider id.
func validateInterface(kind Kind, p interface{}) (string, error) {
	var id string
	switch kind {
	case KindAuthN:
		impl, ok := p.(authn.Provider)
		if !ok {
			return "", apierror.New(apierror.KindProviderInvalid, "provider does not implement the authn interface")
		}
		id = impl.ID()
	case KindAuthZ:
		impl, ok := p.(authz.Provider)
		if !ok {
			return "", apierror.New(apierror.KindProviderInvalid, "provider does not implement the authz interface")
		}
		id = impl.ID()
	case KindAudit:
		impl, ok := p.(audit.Sink)
		if !ok {
			return "", apierror.New(apierror.KindProviderInvalid, "provider does not implement the audit interface")
		}
		id = impl.ID()
	default:
		return "", apierror.New(apierror.KindProviderInvalid, "unknown provider kind %s", kind)
	}
	if id == "" {
		return "", apierror.New(apierror.KindProviderInvalid, "provider has an empty id")
	}
	return id, nil
}

// AuthN returns the named authentication provider.
func (r *Registry) AuthN(id string) (authn.Provider, error) {
	p, err := r.get(KindAuthN, id)
	if err != nil {
		return nil, err
	}
	return p.(authn.Provider), nil
}

// AuthZ returns the named authorization provider.
func (r *Registry) AuthZ(id string) (authz.Provider, error) {
	p, err := r.get(KindAuthZ, id)
	if err != nil {
		return nil, err
	}
	return p.(authz.Provider), nil
}

// Audit returns the named audit sink.
func (r *Registry) Audit(id string) (audit.Sink, error) {
	p, err := r.get(KindAudit, id)
	if err != nil {
		return nil, err
	}
	return p.(audit.Sink), nil
}

func (r *Registry) get(kind Kind, id string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind][id]
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "provider %s/%s not registered", kind, id)
	}
	return p, nil
}

// Shutdown invokes every provider's shutdown in parallel and collects the
// first error.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	var targets []Shutdowner
	var names []string
	for kind, byID := range r.providers {
		for id, p := range byID {
			if sd, ok := p.(Shutdowner); ok {
				targets = append(targets, sd)
				names = append(names, fmt.Sprintf("%s/%s", kind, id))
			}
		}
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for i, sd := range targets {
		name := names[i]
		shutdowner := sd
		g.Go(func() error {
			if err := shutdowner.Shutdown(gctx); err != nil {
				logging.Error("Providers", err, "Provider %s shutdown failed", name)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
