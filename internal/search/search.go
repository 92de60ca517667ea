// Package search is the Search Pipeline: a local-first
// fuzzy match over the search_cache table, plus the remote fetch-and-merge
// step a Task Coordinator task runs for debounced manager fan-out.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/metrics"
	"github.com/jasoncavinder/helm/internal/repository"
)

// DebounceInterval is the fixed wait a remote search task sleeps before
// calling the adapter, so a fast run of keystrokes collapses into the
// single task the caller submits last. Cancel-on-supersede is the caller's
// responsibility, since the caller owns the Task Coordinator submission —
// see internal/core.
const DebounceInterval = 300 * time.Millisecond

// ScoreEntry ranks a cache entry against query: exact name match, then
// substring name, then substring summary.
func ScoreEntry(e models.SearchCacheEntry, query string) int {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 1
	}
	score := 0
	name := strings.ToLower(e.Name)
	summary := strings.ToLower(e.Summary)
	if name == query {
		score += 10
	}
	if strings.Contains(name, query) {
		score += 5
	}
	if strings.Contains(summary, query) {
		score += 1
	}
	return score
}

// RankAndFilter drops zero-score entries for a non-empty query and sorts
// the rest by score desc, then name asc for stability.
func RankAndFilter(entries []models.SearchCacheEntry, query string) []models.SearchCacheEntry {
	type scored struct {
		entry models.SearchCacheEntry
		score int
	}
	buf := make([]scored, 0, len(entries))
	trimmed := strings.TrimSpace(query)
	for _, e := range entries {
		s := ScoreEntry(e, query)
		if trimmed != "" && s == 0 {
			continue
		}
		buf = append(buf, scored{entry: e, score: s})
	}
	sort.SliceStable(buf, func(i, j int) bool {
		if buf[i].score == buf[j].score {
			return buf[i].entry.Name < buf[j].entry.Name
		}
		return buf[i].score > buf[j].score
	})
	out := make([]models.SearchCacheEntry, 0, len(buf))
	for _, b := range buf {
		out = append(out, b.entry)
	}
	return out
}

// Pipeline is the read path (Local) and the remote fetch-merge step
// (FetchRemote) a coordinator task runs. It owns no goroutines or
// debounce-cancellation state itself — the caller submits FetchRemote as a
// Task Coordinator Work closure and cancels a superseded task the same way
// it cancels any other task; the remote fan-out rides the same task
// mechanism as everything else.
type Pipeline struct {
	store *repository.Store
	rt    *adapterrt.Runtime
}

func New(store *repository.Store, rt *adapterrt.Runtime) *Pipeline {
	return &Pipeline{store: store, rt: rt}
}

// Local answers immediately from search_cache, ranked against query.
func (p *Pipeline) Local(ctx context.Context, query string) ([]models.SearchCacheEntry, error) {
	entries, err := p.store.SearchCacheLocal(ctx, query)
	if err != nil {
		return nil, err
	}
	ranked := RankAndFilter(entries, query)
	if len(ranked) > 0 {
		metrics.SearchCacheHitsTotal.Inc()
	} else {
		metrics.SearchCacheMissesTotal.Inc()
	}
	return ranked, nil
}

// FetchRemote sleeps DebounceInterval (returning early if ctx is cancelled,
// which is how a superseding call aborts this one), calls the manager's
// Search capability, and merges results into search_cache.
func (p *Pipeline) FetchRemote(ctx context.Context, managerID, query string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(DebounceInterval):
	}

	resp, err := p.rt.Search(ctx, managerID, query)
	if err != nil {
		return err
	}
	for _, e := range resp.Entries {
		e.OriginQuery = query
		if err := p.store.UpsertSearchCacheEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
