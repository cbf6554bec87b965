// Package authz implements local RBAC authorization over tool profiles.
// A client's effective profile is the walk of its profile inheritance chain
// with allow and deny pattern sets concatenated in chain order; evaluation
// is deny-wins and defaults to deny on no match.
package authz

import (
	"context"
	"fmt"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/glob"
)

// MaxInheritanceDepth bounds profile chain resolution.
const MaxInheritanceDepth = 5

// PolicySystemLifecycle is the policy id reported when a deny comes from
// client or user lifecycle state rather than a profile pattern.
const PolicySystemLifecycle = "system_lifecycle"

// Subject identifies the principal being authorized.
type Subject struct {
	SessionID string
	ClientID  string
	UserID    string
	ProfileID string
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Permit bool
	// PolicyID names the profile (or lifecycle rule) that decided.
	PolicyID string
	// Reason is internal detail for audit; it never reaches the client.
	Reason string
	// MatchedPattern is the allow or deny pattern that decided, if any.
	MatchedPattern string
}

// Provider is the authorization provider contract.
type Provider interface {
	// ID identifies the provider in the registry.
	ID() string
	// Authorize decides permit/deny for one (subject, tool) pair.
	Authorize(ctx context.Context, sub *Subject, toolName string) (*Decision, error)
	// ListAuthorized filters allTools down to the subset the subject may
	// invoke.
	ListAuthorized(ctx context.Context, sub *Subject, allTools []string) ([]string, error)
}

// EffectiveProfile is a resolved inheritance chain.
type EffectiveProfile struct {
	// ProfileID is the directly assigned profile at the chain head.
	ProfileID string
	// Allow and Deny are the concatenated pattern sets in chain order.
	Allow []string
	Deny  []string
	// Limits come from the chain head only; parents contribute patterns.
	RatePerMinute int
	RatePerHour   int
	MaxConcurrent int
}

// LocalRBACProvider is the reference authorization provider, backed by the
// embedded store.
type LocalRBACProvider struct {
	store *store.Store
}

// NewLocalRBACProvider creates the reference provider.
func NewLocalRBACProvider(s *store.Store) *LocalRBACProvider {
	return &LocalRBACProvider{store: s}
}

// ID implements Provider.
func (p *LocalRBACProvider) ID() string { return "local-rbac" }

// Authorize implements Provider.
func (p *LocalRBACProvider) Authorize(ctx context.Context, sub *Subject, toolName string) (*Decision, error) {
	if sub.ClientID != "" {
		client, err := p.store.GetClient(ctx, sub.ClientID)
		if err != nil {
			if apierror.IsKind(err, apierror.KindNotFound) {
				return denyLifecycle("client not found"), nil
			}
			return nil, err
		}
		if client.Status == store.ClientSuspended || client.Status == store.ClientRevoked {
			return denyLifecycle(fmt.Sprintf("client status %s", client.Status)), nil
		}
	}

	profile, err := p.ResolveEffectiveProfile(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}

	return Evaluate(profile, toolName), nil
}

// ListAuthorized implements Provider.
func (p *LocalRBACProvider) ListAuthorized(ctx context.Context, sub *Subject, allTools []string) ([]string, error) {
	if sub.ClientID != "" {
		client, err := p.store.GetClient(ctx, sub.ClientID)
		if err != nil {
			if apierror.IsKind(err, apierror.KindNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if client.Status == store.ClientSuspended || client.Status == store.ClientRevoked {
			return nil, nil
		}
	}

	profile, err := p.ResolveEffectiveProfile(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}

	var permitted []string
	for _, tool := range allTools {
		if Evaluate(profile, tool).Permit {
			permitted = append(permitted, tool)
		}
	}
	return permitted, nil
}

// ResolveEffectiveProfile walks the inheritance chain from profileID,
// concatenating allow and deny sets in chain order. The walk keeps a
// visited set so cycles error out instead of looping, and depth is capped
// at MaxInheritanceDepth. An empty profileID yields an empty (deny-all)
// profile.
func (p *LocalRBACProvider) ResolveEffectiveProfile(ctx context.Context, profileID string) (*EffectiveProfile, error) {
	eff := &EffectiveProfile{ProfileID: profileID}
	if profileID == "" {
		return eff, nil
	}

	visited := make(map[string]bool)
	current := profileID
	for depth := 0; current != ""; depth++ {
		if depth >= MaxInheritanceDepth {
			return nil, apierror.New(apierror.KindInternal,
				"profile inheritance chain for %s exceeds depth %d", profileID, MaxInheritanceDepth)
		}
		if visited[current] {
			return nil, apierror.New(apierror.KindInternal,
				"profile inheritance cycle at %s", current)
		}
		visited[current] = true

		prof, err := p.store.GetProfile(ctx, current)
		if err != nil {
			return nil, err
		}

		eff.Allow = append(eff.Allow, prof.AllowPatterns...)
		eff.Deny = append(eff.Deny, prof.DenyPatterns...)
		if current == profileID {
			eff.RatePerMinute = prof.RatePerMinute
			eff.RatePerHour = prof.RatePerHour
			eff.MaxConcurrent = prof.MaxConcurrent
		}
		current = prof.ParentProfileID
	}
	return eff, nil
}

// Limits returns the rate-limit triple of the chain-head profile.
func (p *LocalRBACProvider) Limits(ctx context.Context, profileID string) (perMinute, perHour, maxConcurrent int, err error) {
	if profileID == "" {
		return 0, 0, 0, nil
	}
	prof, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return 0, 0, 0, err
	}
	return prof.RatePerMinute, prof.RatePerHour, prof.MaxConcurrent, nil
}

// Evaluate applies deny-wins pattern evaluation: the first matching deny
// pattern denies, otherwise the first matching allow pattern permits,
// otherwise default deny.
func Evaluate(profile *EffectiveProfile, toolName string) *Decision {
	if pattern, ok := glob.MatchAny(profile.Deny, toolName); ok {
		return &Decision{
			Permit:         false,
			PolicyID:       profile.ProfileID,
			Reason:         fmt.Sprintf("denied by pattern %s", pattern),
			MatchedPattern: pattern,
		}
	}
	if pattern, ok := glob.MatchAny(profile.Allow, toolName); ok {
		return &Decision{
			Permit:         true,
			PolicyID:       profile.ProfileID,
			Reason:         fmt.Sprintf("allowed by pattern %s", pattern),
			MatchedPattern: pattern,
		}
	}
	return &Decision{
		Permit:   false,
		PolicyID: profile.ProfileID,
		Reason:   "no matching pattern (default deny)",
	}
}

func denyLifecycle(reason string) *Decision {
	return &Decision{Permit: false, PolicyID: PolicySystemLifecycle, Reason: reason}
}
