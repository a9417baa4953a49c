package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memtier/internal/model"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Store           = (*SQLiteStore)(nil)
	_ ArchiveSearcher = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		budget_max   INTEGER NOT NULL,
		l1           INTEGER NOT NULL,
		hierarchical REAL NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

	CREATE TABLE IF NOT EXISTS items (
		conv_id       TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		id            TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		level         INTEGER NOT NULL,
		role          TEXT,
		text          TEXT NOT NULL,
		char_count    INTEGER NOT NULL,
		created_at    TEXT NOT NULL,
		topics        TEXT,
		authority     REAL NOT NULL,
		user_feedback REAL NOT NULL,
		access_cost   REAL NOT NULL,
		PRIMARY KEY (conv_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_items_seq ON items(conv_id, seq);

	CREATE TABLE IF NOT EXISTS archive (
		conv_id       TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		id            TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		level         INTEGER NOT NULL,
		role          TEXT,
		text          TEXT NOT NULL,
		char_count    INTEGER NOT NULL,
		created_at    TEXT NOT NULL,
		topics        TEXT,
		authority     REAL NOT NULL,
		user_feedback REAL NOT NULL,
		access_cost   REAL NOT NULL,
		replaced_by   TEXT NOT NULL,
		archived_at   TEXT NOT NULL,
		PRIMARY KEY (conv_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_archive_seq ON archive(conv_id, seq);
	CREATE INDEX IF NOT EXISTS idx_archive_replaced ON archive(conv_id, replaced_by);

	CREATE TABLE IF NOT EXISTS covers (
		conv_id    TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		summary_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		covered_id TEXT NOT NULL,
		PRIMARY KEY (conv_id, summary_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_covers_covered ON covers(conv_id, covered_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS archive_fts USING fts5(
		text,
		content=archive,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS archive_ai AFTER INSERT ON archive BEGIN
			INSERT INTO archive_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS archive_ad AFTER DELETE ON archive BEGIN
			INSERT INTO archive_fts(archive_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS archive_au AFTER UPDATE ON archive BEGIN
			INSERT INTO archive_fts(archive_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO archive_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the snapshot of conversation id in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, id string, st model.State) error {
	now := s.now().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, budget_max, l1, hierarchical, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   budget_max = excluded.budget_max, l1 = excluded.l1,
		   hierarchical = excluded.hierarchical, updated_at = excluded.updated_at`,
		id, st.BudgetMax, st.Thresholds.L1, st.Thresholds.Hierarchical, now, now)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	for _, table := range []string{"items", "archive", "covers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE conv_id = ?`, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, it := range st.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (conv_id, id, seq, kind, level, role, text, char_count, created_at, topics, authority, user_feedback, access_cost)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, it.ID, i, string(it.Kind), it.Level, nullString(it.Role), it.Text, it.CharCount,
			it.CreatedAt.UTC().Format(timeFormat), topicsJSON(it.Topics), it.Authority, it.UserFeedback, it.AccessCost)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
		if err := insertCovers(ctx, tx, id, it); err != nil {
			return err
		}
	}

	for i, e := range st.Archive {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO archive (conv_id, id, seq, kind, level, role, text, char_count, created_at, topics, authority, user_feedback, access_cost, replaced_by, archived_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.ID, i, string(e.Kind), e.Level, nullString(e.Role), e.Text, e.CharCount,
			e.CreatedAt.UTC().Format(timeFormat), topicsJSON(e.Topics), e.Authority, e.UserFeedback, e.AccessCost,
			e.ReplacedBy, e.ArchivedAt.UTC().Format(timeFormat))
		if err != nil {
			return fmt.Errorf("insert archive %s: %w", e.ID, err)
		}
		if err := insertCovers(ctx, tx, id, e.Item); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns the snapshot of conversation id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (model.State, error) {
	st := model.State{Items: []model.Item{}, Archive: []model.ArchiveEntry{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT budget_max, l1, hierarchical FROM conversations WHERE id = ?`, id).
		Scan(&st.BudgetMax, &st.Thresholds.L1, &st.Thresholds.Hierarchical)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("load conversation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return st, fmt.Errorf("load conversation %s: %w", id, err)
	}

	covers, err := s.loadCovers(ctx, id)
	if err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, level, role, text, char_count, created_at, topics, authority, user_feedback, access_cost
		 FROM items WHERE conv_id = ? ORDER BY seq`, id)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return st, err
		}
		it.Covers = covers[it.ID]
		st.Items = append(st.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, kind, level, role, text, char_count, created_at, topics, authority, user_feedback, access_cost, replaced_by, archived_at
		 FROM archive WHERE conv_id = ? ORDER BY seq`, id)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ArchiveEntry
		var archivedAt string
		e.Item, err = scanItem(rows, &e.ReplacedBy, &archivedAt)
		if err != nil {
			return st, err
		}
		e.ArchivedAt, _ = time.Parse(timeFormat, archivedAt)
		e.Covers = covers[e.ID]
		st.Archive = append(st.Archive, e)
	}
	return st, rows.Err()
}

// List returns every stored conversation, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]ConversationInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.budget_max, c.updated_at,
		       (SELECT COUNT(*) FROM items i WHERE i.conv_id = c.id),
		       (SELECT COALESCE(SUM(char_count), 0) FROM items i WHERE i.conv_id = c.id),
		       (SELECT COUNT(*) FROM archive a WHERE a.conv_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var ci ConversationInfo
		var updated string
		if err := rows.Scan(&ci.ID, &ci.BudgetMax, &updated, &ci.Items, &ci.TotalChars, &ci.Archived); err != nil {
			return nil, err
		}
		ci.UpdatedAt, _ = time.Parse(timeFormat, updated)
		out = append(out, ci)
	}
	return out, rows.Err()
}

// Delete removes conversation id and everything it owns.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"items", "archive", "covers"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE conv_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, model.ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanItem reads the shared item columns followed by any extra destinations.
func scanItem(row scanner, extra ...interface{}) (model.Item, error) {
	var it model.Item
	var kind, createdAt string
	var role, topics sql.NullString

	dest := []interface{}{
		&it.ID, &kind, &it.Level, &role, &it.Text, &it.CharCount,
		&createdAt, &topics, &it.Authority, &it.UserFeedback, &it.AccessCost,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return it, err
	}

	it.Kind = model.Kind(kind)
	it.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if role.Valid {
		it.Role = role.String
	}
	if topics.Valid {
		json.Unmarshal([]byte(topics.String), &it.Topics)
	}
	return it, nil
}

func topicsJSON(topics []string) *string {
	if len(topics) == 0 {
		return nil
	}
	b, _ := json.Marshal(topics)
	s := string(b)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
