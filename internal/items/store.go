// Package items holds the ordered list of memory items that count against the
// conversation budget.
package items

import (
	"fmt"
	"sync"

	"github.com/rcliao/memtier/internal/model"
)

// Store is an ordered item container with id lookup. Display order is the
// slice order; it is never derived from map iteration or timestamps.
type Store struct {
	mu    sync.RWMutex
	items []model.Item
	index map[string]int
	chars int
}

// New returns an empty store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Load returns a store holding items in the given order.
func Load(items []model.Item) (*Store, error) {
	s := New()
	for _, it := range items {
		if err := s.Append(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.items))
	s.chars = 0
	for i, it := range s.items {
		s.index[it.ID] = i
		s.chars += it.CharCount
	}
}

// Append inserts item at the end.
func (s *Store) Append(item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[item.ID]; dup {
		return fmt.Errorf("append %s: duplicate id", item.ID)
	}
	s.items = append(s.items, item.Clone())
	s.index[item.ID] = len(s.items) - 1
	s.chars += item.CharCount
	return nil
}

// InsertAt inserts item before position pos. pos == Len() appends.
func (s *Store) InsertAt(pos int, item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(pos, item)
}

func (s *Store) insertLocked(pos int, item model.Item) error {
	if pos < 0 || pos > len(s.items) {
		return fmt.Errorf("insert %s: position %d out of range", item.ID, pos)
	}
	if _, dup := s.index[item.ID]; dup {
		return fmt.Errorf("insert %s: duplicate id", item.ID)
	}
	s.items = append(s.items, model.Item{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = item.Clone()
	s.reindex()
	return nil
}

// RemoveAll removes the items with the given ids, preserving the relative
// order of survivors. If any id is absent nothing is removed.
func (s *Store) RemoveAll(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.removeLocked(ids)
	return err
}

func (s *Store) removeLocked(ids []string) ([]model.Item, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; !ok {
			return nil, fmt.Errorf("remove %s: %w", id, model.ErrNotFound)
		}
		drop[id] = true
	}
	removed := make([]model.Item, 0, len(drop))
	kept := s.items[:0]
	for _, it := range s.items {
		if drop[it.ID] {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	s.reindex()
	return removed, nil
}

// Replace swaps the targeted items for summary, which takes the position of
// the first targeted item. commit runs under the write lock after the targets
// are validated and before anything changes; if it fails the store is left
// untouched. Targets that are no longer present yield model.ErrNotFound.
func (s *Store) Replace(ids []string, summary model.Item, commit func(removed []model.Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		return fmt.Errorf("replace: no targets")
	}
	first := len(s.items)
	removed := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		pos, ok := s.index[id]
		if !ok {
			return fmt.Errorf("replace %s: %w", id, model.ErrNotFound)
		}
		if pos < first {
			first = pos
		}
		removed = append(removed, s.items[pos].Clone())
	}
	if _, dup := s.index[summary.ID]; dup {
		return fmt.Errorf("replace: duplicate summary id %s", summary.ID)
	}
	if commit != nil {
		if err := commit(removed); err != nil {
			return err
		}
	}

	// Every item before first survives, so first is still the insert position.
	if _, err := s.removeLocked(ids); err != nil {
		return err
	}
	return s.insertLocked(first, summary)
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return model.Item{}, fmt.Errorf("get %s: %w", id, model.ErrNotFound)
	}
	return s.items[pos].Clone(), nil
}

// Position returns the display position of id.
func (s *Store) Position(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return -1, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return pos, nil
}

// Items returns a copy of all items in display order.
func (s *Store) Items() []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

// ByKind returns the items of kind k in display order.
func (s *Store) ByKind(k model.Kind) []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Item
	for _, it := range s.items {
		if it.Kind == k {
			out = append(out, it.Clone())
		}
	}
	return out
}

// ByLevel returns the items at level in display order.
func (s *Store) ByLevel(level int) []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Item
	for _, it := range s.items {
		if it.Level == level {
			out = append(out, it.Clone())
		}
	}
	return out
}

// MaxLevel returns the highest level present, or 0 for an empty store.
func (s *Store) MaxLevel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, it := range s.items {
		if it.Level > max {
			max = it.Level
		}
	}
	return max
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// TotalChars is the live budget usage.
func (s *Store) TotalChars() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chars
}

// CountByKind returns item counts per kind.
func (s *Store) CountByKind() map[model.Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[model.Kind]int{model.KindRaw: 0, model.KindSummary: 0}
	for _, it := range s.items {
		counts[it.Kind]++
	}
	return counts
}

// SummaryRatio is count(summary) / count(all); 0 for an empty store.
func (s *Store) SummaryRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return 0
	}
	n := 0
	for _, it := range s.items {
		if it.Kind == model.KindSummary {
			n++
		}
	}
	return float64(n) / float64(len(s.items))
}
