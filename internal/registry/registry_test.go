package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/models"
)

func TestGet_KnownAndUnknown(t *testing.T) {
	d, ok := Get("homebrew_formula")
	require.True(t, ok)
	assert.Equal(t, models.Guarded, d.Authority)
	assert.True(t, d.Capabilities.Has(models.CapPin))

	_, ok = Get("not_a_manager")
	assert.False(t, ok)
}

func TestAll_SortedByAuthorityThenID(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		prevRank := models.AuthorityRank(all[i-1].Authority)
		curRank := models.AuthorityRank(all[i].Authority)
		require.LessOrEqual(t, prevRank, curRank)
		if prevRank == curRank {
			require.LessOrEqual(t, all[i-1].ID, all[i].ID)
		}
	}
}

func TestByAuthority_DetectionOnlyHasNoMutatingCapability(t *testing.T) {
	for _, d := range ByAuthority(models.DetectionOnly) {
		assert.False(t, d.Capabilities.Has(models.CapInstall))
		assert.False(t, d.Capabilities.Has(models.CapUpgrade))
		assert.True(t, d.Capabilities.Has(models.CapDetect))
	}
}

func TestDescriptorTable_NoDuplicateIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range descriptors {
		require.False(t, seen[d.ID], "duplicate manager id %s", d.ID)
		seen[d.ID] = true
	}
}
