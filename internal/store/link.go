package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcliao/memtier/internal/model"
)

// CoverLink is one ordered edge from a summary to an item it summarizes.
type CoverLink struct {
	SummaryID string `json:"summary_id"`
	Seq       int    `json:"seq"`
	CoveredID string `json:"covered_id"`
}

func insertCovers(ctx context.Context, tx *sql.Tx, convID string, it model.Item) error {
	for i, c := range it.Covers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO covers (conv_id, summary_id, seq, covered_id) VALUES (?, ?, ?, ?)`,
			convID, it.ID, i, c)
		if err != nil {
			return fmt.Errorf("insert covers %s -> %s: %w", it.ID, c, err)
		}
	}
	return nil
}

// loadCovers returns each summary's covers in order.
func (s *SQLiteStore) loadCovers(ctx context.Context, convID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary_id, covered_id FROM covers WHERE conv_id = ? ORDER BY summary_id, seq`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var sum, covered string
		if err := rows.Scan(&sum, &covered); err != nil {
			return nil, err
		}
		out[sum] = append(out[sum], covered)
	}
	return out, rows.Err()
}

// Links returns every covers edge touching id within a conversation, whether
// id is the summary or the covered item.
func (s *SQLiteStore) Links(ctx context.Context, convID, id string) ([]CoverLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary_id, seq, covered_id FROM covers
		 WHERE conv_id = ? AND (summary_id = ? OR covered_id = ?)
		 ORDER BY summary_id, seq`, convID, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []CoverLink
	for rows.Next() {
		var l CoverLink
		if err := rows.Scan(&l.SummaryID, &l.Seq, &l.CoveredID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
