package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/store"
)

func setup(t *testing.T) (*store.Store, *LocalRBACProvider) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, NewLocalRBACProvider(s)
}

func addProfile(t *testing.T, s *store.Store, name, parentID string, allow, deny []string) *store.ToolProfile {
	t.Helper()
	p := &store.ToolProfile{
		ID: uuid.NewString(), Name: name, ParentProfileID: parentID,
		AllowPatterns: allow, DenyPatterns: deny,
	}
	require.NoError(t, s.CreateProfile(context.Background(), p))
	return p
}

func addClientWithProfile(t *testing.T, s *store.Store, profileID, status string) *store.Client {
	t.Helper()
	ctx := context.Background()
	u := &store.User{ID: uuid.NewString(), Username: uuid.NewString(), Status: store.UserActive}
	require.NoError(t, s.CreateUser(ctx, u))
	c := &store.Client{
		ID: uuid.NewString(), UserID: u.ID, KeyPrefix: uuid.NewString()[:8],
		SecretHash: "h", ProfileID: profileID, Status: status,
	}
	require.NoError(t, s.CreateClient(ctx, c))
	return c
}

func TestDenyWins(t *testing.T) {
	s, p := setup(t)
	prof := addProfile(t, s, "github", "", []string{"github.*"}, []string{"github.delete_*"})
	client := addClientWithProfile(t, s, prof.ID, store.ClientActive)
	sub := &Subject{ClientID: client.ID, ProfileID: prof.ID}
	ctx := context.Background()

	d, err := p.Authorize(ctx, sub, "github.create_issue")
	require.NoError(t, err)
	assert.True(t, d.Permit)
	assert.Equal(t, prof.ID, d.PolicyID)

	d, err = p.Authorize(ctx, sub, "github.delete_repo")
	require.NoError(t, err)
	assert.False(t, d.Permit)
	assert.Equal(t, "github.delete_*", d.MatchedPattern)
	assert.Contains(t, d.Reason, "github.delete_*")
}

func TestDefaultDeny(t *testing.T) {
	s, p := setup(t)
	prof := addProfile(t, s, "echo-only", "", []string{"echo.*"}, nil)
	client := addClientWithProfile(t, s, prof.ID, store.ClientActive)

	d, err := p.Authorize(context.Background(), &Subject{ClientID: client.ID, ProfileID: prof.ID}, "slack.post")
	require.NoError(t, err)
	assert.False(t, d.Permit)
	assert.Contains(t, d.Reason, "default deny")
}

func TestRevokedClientDeniedWithLifecyclePolicy(t *testing.T) {
	s, p := setup(t)
	prof := addProfile(t, s, "anything", "", []string{"*"}, nil)
	client := addClientWithProfile(t, s, prof.ID, store.ClientRevoked)

	d, err := p.Authorize(context.Background(), &Subject{ClientID: client.ID, ProfileID: prof.ID}, "echo.hello")
	require.NoError(t, err)
	assert.False(t, d.Permit)
	assert.Equal(t, PolicySystemLifecycle, d.PolicyID)
}

// P1: the effective profile is the concatenation of allow and deny sets in
// chain order with nothing dropped.
func TestEffectiveProfileConcatenation(t *testing.T) {
	s, p := setup(t)

	root := addProfile(t, s, "root", "", []string{"base.*"}, []string{"base.admin_*"})
	mid := addProfile(t, s, "mid", root.ID, []string{"mid.*"}, nil)
	leaf := addProfile(t, s, "leaf", mid.ID, []string{"leaf.*"}, []string{"leaf.danger"})

	eff, err := p.ResolveEffectiveProfile(context.Background(), leaf.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"leaf.*", "mid.*", "base.*"}, eff.Allow)
	assert.Equal(t, []string{"leaf.danger", "base.admin_*"}, eff.Deny)
}

// A parent's deny still wins over a child's allow: deny-wins applies at
// evaluation, not at merge.
func TestInheritedDenyWinsOverChildAllow(t *testing.T) {
	s, p := setup(t)

	parent := addProfile(t, s, "guard", "", nil, []string{"github.delete_*"})
	child := addProfile(t, s, "broad", parent.ID, []string{"github.*"}, nil)

	eff, err := p.ResolveEffectiveProfile(context.Background(), child.ID)
	require.NoError(t, err)

	assert.False(t, Evaluate(eff, "github.delete_repo").Permit)
	assert.True(t, Evaluate(eff, "github.create_issue").Permit)
}

func TestInheritanceCycleErrors(t *testing.T) {
	s, p := setup(t)

	a := addProfile(t, s, "a", "", nil, nil)
	b := addProfile(t, s, "b", a.ID, nil, nil)
	// Close the loop a -> b.
	_, err := s.DB().Exec(`UPDATE tool_profiles SET parent_profile_id = ? WHERE id = ?`, b.ID, a.ID)
	require.NoError(t, err)

	_, err = p.ResolveEffectiveProfile(context.Background(), b.ID)
	assert.Error(t, err)
}

func TestInheritanceDepthCap(t *testing.T) {
	s, p := setup(t)

	parent := ""
	var last *store.ToolProfile
	for i := 0; i < MaxInheritanceDepth+1; i++ {
		last = addProfile(t, s, uuid.NewString(), parent, nil, nil)
		parent = last.ID
	}

	_, err := p.ResolveEffectiveProfile(context.Background(), last.ID)
	assert.Error(t, err)
}

func TestListAuthorized(t *testing.T) {
	s, p := setup(t)
	prof := addProfile(t, s, "gh", "", []string{"github.*"}, []string{"github.delete_*"})
	client := addClientWithProfile(t, s, prof.ID, store.ClientActive)

	all := []string{"github.create_issue", "github.delete_repo", "slack.post"}
	permitted, err := p.ListAuthorized(context.Background(), &Subject{ClientID: client.ID, ProfileID: prof.ID}, all)
	require.NoError(t, err)
	assert.Equal(t, []string{"github.create_issue"}, permitted)
}

func TestEmptyProfileDeniesAll(t *testing.T) {
	_, p := setup(t)

	d, err := p.Authorize(context.Background(), &Subject{ProfileID: ""}, "echo.hello")
	require.NoError(t, err)
	assert.False(t, d.Permit)
}
