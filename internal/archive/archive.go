// Package archive is the cold storage for items evicted from the item store.
// Entries are append-only; only the id index needs synchronization.
package archive

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/memtier/internal/keywords"
	"github.com/rcliao/memtier/internal/model"
)

// Archive stores evicted items keyed by id and by the summary that replaced them.
type Archive struct {
	mu         sync.RWMutex
	entries    []model.ArchiveEntry
	index      map[string]int
	byReplacer map[string][]string
	now        func() time.Time
}

// New returns an empty archive.
func New() *Archive {
	return &Archive{
		index:      make(map[string]int),
		byReplacer: make(map[string][]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Load restores an archive from exported entries without modifying them.
func Load(entries []model.ArchiveEntry) (*Archive, error) {
	a := New()
	for _, e := range entries {
		if err := a.put(e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SetClock overrides the archive timestamp source.
func (a *Archive) SetClock(now func() time.Time) { a.now = now }

func (a *Archive) put(e model.ArchiveEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.index[e.ID]; dup {
		return fmt.Errorf("archive %s: duplicate id", e.ID)
	}
	e.Item = e.Item.Clone()
	a.entries = append(a.entries, e)
	a.index[e.ID] = len(a.entries) - 1
	a.byReplacer[e.ReplacedBy] = append(a.byReplacer[e.ReplacedBy], e.ID)
	return nil
}

// Add stores evicted items, each tagged as replaced by replacedBy. Either all
// items are stored or none is.
func (a *Archive) Add(replacedBy string, evicted ...model.Item) error {
	if replacedBy == "" {
		return fmt.Errorf("archive: empty replacedBy")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, it := range evicted {
		if _, dup := a.index[it.ID]; dup {
			return fmt.Errorf("archive %s: duplicate id", it.ID)
		}
	}
	at := a.now()
	for _, it := range evicted {
		a.entries = append(a.entries, model.ArchiveEntry{Item: it.Clone(), ReplacedBy: replacedBy, ArchivedAt: at})
		a.index[it.ID] = len(a.entries) - 1
		a.byReplacer[replacedBy] = append(a.byReplacer[replacedBy], it.ID)
	}
	return nil
}

// Get returns the archived entry for id.
func (a *Archive) Get(id string) (model.ArchiveEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.index[id]
	if !ok {
		return model.ArchiveEntry{}, fmt.Errorf("archive get %s: %w", id, model.ErrNotFound)
	}
	e := a.entries[pos]
	e.Item = e.Item.Clone()
	return e, nil
}

// ReplacedBy returns the ids archived when summaryID was created.
func (a *Archive) ReplacedBy(summaryID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.byReplacer[summaryID]...)
}

// Entries returns all entries in archive order.
func (a *Archive) Entries() []model.ArchiveEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.ArchiveEntry, len(a.entries))
	for i, e := range a.entries {
		e.Item = e.Item.Clone()
		out[i] = e
	}
	return out
}

// Len returns the number of archived entries.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Clear drops every entry.
func (a *Archive) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.index = make(map[string]int)
	a.byReplacer = make(map[string][]string)
}

// Decompress walks root's covers down to targetLevel and returns the items at
// that level in covers order. Missing ids do not stop the walk: the resolved
// items are returned together with a *model.BrokenChainError naming every gap.
func (a *Archive) Decompress(root model.Item, targetLevel int) ([]model.Item, error) {
	if targetLevel < 0 {
		targetLevel = 0
	}
	if root.Level <= targetLevel {
		return []model.Item{root.Clone()}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []model.Item
	var missing []string
	var walk func(it model.Item)
	walk = func(it model.Item) {
		if it.Level <= targetLevel {
			out = append(out, it.Clone())
			return
		}
		for _, id := range it.Covers {
			pos, ok := a.index[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			walk(a.entries[pos].Item)
		}
	}
	walk(root)

	if len(missing) > 0 {
		return out, &model.BrokenChainError{RootID: root.ID, Missing: missing, Partial: out}
	}
	return out, nil
}

// Match is an archived entry matching a query.
type Match struct {
	Entry       model.ArchiveEntry
	Exact       bool
	KeywordHits int
}

// SearchWithFallback scans archived text for the query as a substring or for
// any of its keywords. The flag reports whether any match sits below maxLevel,
// meaning the caller's local scan alone could not have found it.
func (a *Archive) SearchWithFallback(query string, maxLevel int) ([]Match, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, false
	}
	terms := keywords.Terms(q)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var matches []Match
	below := false
	for _, e := range a.entries {
		text := strings.ToLower(e.Text)
		m := Match{Exact: strings.Contains(text, q)}
		for _, t := range terms {
			if strings.Contains(text, t) || e.HasTopic(t) {
				m.KeywordHits++
			}
		}
		if !m.Exact && m.KeywordHits == 0 {
			continue
		}
		m.Entry = e
		m.Entry.Item = e.Item.Clone()
		matches = append(matches, m)
		if e.Level < maxLevel {
			below = true
		}
	}
	return matches, below
}
