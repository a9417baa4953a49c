package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string       `json:"db_path"`
	DBSizeBytes   int64        `json:"db_size_bytes"`
	Conversations int          `json:"conversations"`
	LiveItems     int          `json:"live_items"`
	Summaries     int          `json:"summaries"`
	ArchivedItems int          `json:"archived_items"`
	CoverLinks    int          `json:"cover_links"`
	Levels        []LevelStats `json:"levels"`
}

// LevelStats holds live item counts per level.
type LevelStats struct {
	Level int `json:"level"`
	Count int `json:"count"`
	Chars int `json:"chars"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.Conversations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&st.LiveItems)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE kind = 'summary'`).Scan(&st.Summaries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive`).Scan(&st.ArchivedItems)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM covers`).Scan(&st.CoverLinks)

	rows, err := s.db.QueryContext(ctx, `
		SELECT level, COUNT(*), COALESCE(SUM(char_count), 0)
		FROM items GROUP BY level ORDER BY level DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ls LevelStats
		rows.Scan(&ls.Level, &ls.Count, &ls.Chars)
		st.Levels = append(st.Levels, ls)
	}

	return st, nil
}
