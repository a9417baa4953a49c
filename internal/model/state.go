package model

import "fmt"

// Thresholds are the compression trigger settings persisted with a conversation.
type Thresholds struct {
	L1           int     `json:"l1"`
	Hierarchical float64 `json:"hierarchical"`
}

// State is the export/import layout of one conversation's memory.
type State struct {
	Items      []Item         `json:"items"`
	Archive    []ArchiveEntry `json:"archive"`
	BudgetMax  int            `json:"budget_max"`
	Thresholds Thresholds     `json:"thresholds"`
}

// Validate checks the structural invariants a loaded state must satisfy.
func (s *State) Validate() error {
	levels := make(map[string]int, len(s.Items)+len(s.Archive))

	check := func(it Item) error {
		if it.ID == "" {
			return fmt.Errorf("%w: item with empty id", ErrInvalidState)
		}
		if _, dup := levels[it.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidState, it.ID)
		}
		if (it.Level == 0) != (it.Kind == KindRaw) {
			return fmt.Errorf("%w: item %s has kind %s at level %d", ErrInvalidState, it.ID, it.Kind, it.Level)
		}
		if it.Kind != KindRaw && it.Kind != KindSummary {
			return fmt.Errorf("%w: item %s has unknown kind %q", ErrInvalidState, it.ID, it.Kind)
		}
		if it.CharCount != CharLen(it.Text) {
			return fmt.Errorf("%w: item %s char_count %d does not match text", ErrInvalidState, it.ID, it.CharCount)
		}
		levels[it.ID] = it.Level
		return nil
	}

	for _, it := range s.Items {
		if err := check(it); err != nil {
			return err
		}
	}
	for _, e := range s.Archive {
		if err := check(e.Item); err != nil {
			return err
		}
	}

	for _, e := range s.Archive {
		if _, ok := levels[e.ReplacedBy]; !ok {
			return fmt.Errorf("%w: archived %s replaced by unknown %q", ErrInvalidState, e.ID, e.ReplacedBy)
		}
	}

	all := make([]Item, 0, len(s.Items)+len(s.Archive))
	all = append(all, s.Items...)
	for _, e := range s.Archive {
		all = append(all, e.Item)
	}
	for _, it := range all {
		if it.Kind != KindSummary {
			continue
		}
		if len(it.Covers) == 0 {
			return fmt.Errorf("%w: summary %s covers nothing", ErrInvalidState, it.ID)
		}
		for _, c := range it.Covers {
			lvl, ok := levels[c]
			if !ok {
				return fmt.Errorf("%w: summary %s covers unknown %s", ErrInvalidState, it.ID, c)
			}
			if lvl != it.Level-1 {
				return fmt.Errorf("%w: summary %s (level %d) covers %s at level %d", ErrInvalidState, it.ID, it.Level, c, lvl)
			}
		}
	}

	// No two live items at the same level may summarize the same span.
	owner := make(map[int]map[string]string)
	for _, it := range s.Items {
		if it.Kind != KindSummary {
			continue
		}
		if owner[it.Level] == nil {
			owner[it.Level] = make(map[string]string)
		}
		for _, c := range it.Covers {
			if prev, ok := owner[it.Level][c]; ok {
				return fmt.Errorf("%w: summaries %s and %s both cover %s", ErrInvalidState, prev, it.ID, c)
			}
			owner[it.Level][c] = it.ID
		}
	}
	return nil
}
