package policy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	repo, err := repository.Open(filepath.Join(t.TempDir(), "policy-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return New(repo)
}

func TestSafeModeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	on, err := s.GetSafeMode(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, s.SetSafeMode(context.Background(), true))
	on, err = s.GetSafeMode(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
}

func TestState_IncludesInMemoryPriorityOverride(t *testing.T) {
	s := newTestStore(t)
	s.SetManagerPriority("npm", 5)

	state, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, state.ManagerPriorityOverride["npm"])
	assert.Equal(t, 5, s.ManagerPriority("npm"))
	assert.Equal(t, 0, s.ManagerPriority("pip"))
}

func TestPackageKegPolicy_GlobalDeletesOverride(t *testing.T) {
	s := newTestStore(t)
	ref := models.PackageRef{ManagerID: "homebrew_formula", Name: "git"}
	require.NoError(t, s.SetPackageKegPolicy(context.Background(), ref, models.KegPolicyCleanup))

	policies, err := s.ListPackageKegPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.KegPolicyCleanup, policies[ref])

	require.NoError(t, s.SetPackageKegPolicy(context.Background(), ref, models.KegPolicyGlobal))
	policies, err = s.ListPackageKegPolicies(context.Background())
	require.NoError(t, err)
	_, ok := policies[ref]
	assert.False(t, ok)
}
