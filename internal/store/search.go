package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/memtier/internal/keywords"
	"github.com/rcliao/memtier/internal/model"
)

// SearchArchived finds archived items in conversations other than excludeID
// whose text matches any keyword of query. It serves as long-term memory for
// the tiered search fallback.
func (s *SQLiteStore) SearchArchived(ctx context.Context, query, excludeID string, limit int) ([]model.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := keywords.Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.conv_id, a.id, a.level, a.text, a.replaced_by, bm25(archive_fts) AS rank
		FROM archive_fts
		JOIN archive a ON a.rowid = archive_fts.rowid
		WHERE archive_fts MATCH ? AND a.conv_id != ?
		ORDER BY rank, a.id
		LIMIT ?`, strings.Join(quoted, " OR "), excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var convID, replacedBy string
		var rank float64
		if err := rows.Scan(&convID, &r.ID, &r.Level, &r.Content, &replacedBy, &rank); err != nil {
			return nil, err
		}
		// bm25 is negative and near zero in small corpora; every row is a
		// keyword match, so scores start at one half.
		x := -rank
		if x < 0 {
			x = 0
		}
		r.RelevanceScore = 0.5 + 0.5*x/(1+x)
		r.Source = model.SourceFallback
		r.Metadata = map[string]any{"conversation": convID, "replaced_by": replacedBy}
		results = append(results, r)
	}
	return results, rows.Err()
}
