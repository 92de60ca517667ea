package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

func TestRankAndFilter_ExactNameBeatsSubstring(t *testing.T) {
	entries := []models.SearchCacheEntry{
		{Name: "node-lodash", Summary: "a wrapper around lodash"},
		{Name: "lodash", Summary: "a utility library"},
		{Name: "unrelated", Summary: "nothing to do with it"},
	}
	ranked := RankAndFilter(entries, "lodash")
	require.Len(t, ranked, 2)
	assert.Equal(t, "lodash", ranked[0].Name)
	assert.Equal(t, "node-lodash", ranked[1].Name)
}

func TestRankAndFilter_EmptyQueryKeepsAllStableByName(t *testing.T) {
	entries := []models.SearchCacheEntry{
		{Name: "zeta"},
		{Name: "alpha"},
		{Name: "mu"},
	}
	ranked := RankAndFilter(entries, "")
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, []string{ranked[0].Name, ranked[1].Name, ranked[2].Name})
}

func TestPipeline_Local_ReadsFromCache(t *testing.T) {
	store, err := repository.Open(filepath.Join(t.TempDir(), "search-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertSearchCacheEntry(context.Background(), models.SearchCacheEntry{
		ManagerID: "npm", Name: "lodash", Summary: "a utility library", SourceManager: "npm",
	}))

	p := New(store, adapterrt.New(nil))
	results, err := p.Local(context.Background(), "lodash")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "lodash", results[0].Name)
}

func TestPipeline_FetchRemote_MergesIntoCacheAfterDebounce(t *testing.T) {
	store, err := repository.Open(filepath.Join(t.TempDir(), "search-test2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := adapterrt.New(map[string]adapter.Manager{
		"npm": {
			ID: "npm",
			Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
				return adapter.SearchResponse{Entries: []models.SearchCacheEntry{
					{ManagerID: "npm", Name: "lodash", Summary: "remote summary", SourceManager: "npm"},
				}}, nil
			},
		},
	})

	p := New(store, rt)
	start := time.Now()
	err = p.FetchRemote(context.Background(), "npm", "lodash")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), DebounceInterval)

	results, err := store.SearchCacheLocal(context.Background(), "lodash")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "remote summary", results[0].Summary)
}

func TestPipeline_FetchRemote_CancelledDuringDebounceNeverCallsAdapter(t *testing.T) {
	store, err := repository.Open(filepath.Join(t.TempDir(), "search-test3.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := adapterrt.New(map[string]adapter.Manager{
		"npm": {
			ID: "npm",
			Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
				t.Fatal("a superseded fetch must not call the adapter")
				return adapter.SearchResponse{}, nil
			},
		},
	})

	p := New(store, rt)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.FetchRemote(ctx, "npm", "lodash")
	assert.Error(t, err)
}

func TestPipeline_FetchRemote_UnknownManagerReturnsError(t *testing.T) {
	store, err := repository.Open(filepath.Join(t.TempDir(), "search-test4.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := New(store, adapterrt.New(nil))
	err = p.FetchRemote(context.Background(), "not-a-real-manager", "lodash")
	assert.Error(t, err)
}
