package repository

import (
	"context"

	"github.com/jasoncavinder/helm/internal/models"
)

type searchCacheRow struct {
	ManagerID     string  `db:"manager_id"`
	Name          string  `db:"name"`
	Version       *string `db:"version"`
	Summary       string  `db:"summary"`
	SourceManager string  `db:"source_manager"`
	OriginQuery   string  `db:"origin_query"`
}

func (r searchCacheRow) toModel() models.SearchCacheEntry {
	return models.SearchCacheEntry{
		ManagerID:     r.ManagerID,
		Name:          r.Name,
		Version:       r.Version,
		Summary:       r.Summary,
		SourceManager: r.SourceManager,
		OriginQuery:   r.OriginQuery,
	}
}

// UpsertSearchCacheEntry inserts a new entry or merges a richer summary
// into an existing one keyed on (manager_id, name) — a set-like cache with
// last-write-wins on non-empty fields.
func (s *Store) UpsertSearchCacheEntry(ctx context.Context, e models.SearchCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_cache (manager_id, name, version, summary, source_manager, origin_query, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (manager_id, name) DO UPDATE SET
			version = CASE WHEN excluded.version IS NOT NULL THEN excluded.version ELSE search_cache.version END,
			summary = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE search_cache.summary END,
			source_manager = excluded.source_manager,
			origin_query = excluded.origin_query
	`, e.ManagerID, e.Name, e.Version, e.Summary, e.SourceManager, e.OriginQuery)
	return err
}

// SearchCacheLocal returns every cached entry whose name contains query,
// case-insensitively — the local-first pass of the Search Pipeline before
// remote fan-out.
func (s *Store) SearchCacheLocal(ctx context.Context, query string) ([]models.SearchCacheEntry, error) {
	var rows []searchCacheRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT manager_id, name, version, summary, source_manager, origin_query
		 FROM search_cache WHERE name LIKE '%' || ? || '%' COLLATE NOCASE ORDER BY name`, query)
	if err != nil {
		return nil, err
	}
	out := make([]models.SearchCacheEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
