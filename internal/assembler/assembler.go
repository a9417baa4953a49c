// Package assembler builds the context string handed to the generator: the
// most recent raw turns verbatim, plus the densest relevant summaries that fit.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/memtier/internal/items"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/search"
)

const DefaultRecentK = 8

// Searcher ranks memory for a query.
type Searcher interface {
	Local(ctx context.Context, query string) (search.Response, error)
}

// Context is an assembled context with its parts.
type Context struct {
	Text      string       `json:"text"`
	Recent    []model.Item `json:"recent"`
	Summaries []model.Item `json:"summaries"`
	Used      int          `json:"used_chars"`
	MaxChars  int          `json:"max_chars"`
}

// Assembler builds contexts for one conversation.
type Assembler struct {
	items   *items.Store
	search  Searcher
	recentK int
	log     logging.Logger
}

// New returns an assembler that always keeps the recentK newest raw turns.
func New(store *items.Store, s Searcher, recentK int, log logging.Logger) *Assembler {
	if recentK <= 0 {
		recentK = DefaultRecentK
	}
	return &Assembler{items: store, search: s, recentK: recentK, log: logging.OrNop(log)}
}

// Build returns the assembled context text.
func (a *Assembler) Build(ctx context.Context, query string, maxChars int) (string, error) {
	c, err := a.Assemble(ctx, query, maxChars)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// Assemble keeps the recent raw turns whatever their size, then spends what
// is left of maxChars on summaries, highest level first.
func (a *Assembler) Assemble(ctx context.Context, query string, maxChars int) (Context, error) {
	out := Context{MaxChars: maxChars}

	raws := a.items.ByKind(model.KindRaw)
	if len(raws) > a.recentK {
		raws = raws[len(raws)-a.recentK:]
	}
	out.Recent = raws
	for _, it := range raws {
		out.Used += it.CharCount
	}

	remaining := max(0, maxChars-out.Used)
	if remaining > 0 {
		cands, err := a.candidates(ctx, query)
		if err != nil {
			return out, err
		}
		for _, c := range cands {
			if c.CharCount > remaining {
				continue
			}
			out.Summaries = append(out.Summaries, c)
			remaining -= c.CharCount
			out.Used += c.CharCount
		}
	}

	// Summaries read before the turns they precede.
	sort.SliceStable(out.Summaries, func(i, j int) bool {
		return a.position(out.Summaries[i].ID) < a.position(out.Summaries[j].ID)
	})
	out.Text = render(out.Summaries, out.Recent)
	return out, nil
}

type ranked struct {
	model.Item
	score float64
}

// candidates returns live summaries ordered by level, then score, then id.
func (a *Assembler) candidates(ctx context.Context, query string) ([]model.Item, error) {
	var pool []ranked
	if strings.TrimSpace(query) == "" || a.search == nil {
		for _, it := range a.items.ByKind(model.KindSummary) {
			pool = append(pool, ranked{Item: it})
		}
	} else {
		resp, err := a.search.Local(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		seen := make(map[string]int)
		for _, r := range resp.Results {
			if r.Source != model.SourceLocal {
				continue
			}
			// Decompressed matches stand for the live summary they came from.
			id := r.ID
			if root, ok := r.Metadata["root"].(string); ok && root != "" {
				id = root
			}
			it, err := a.items.Get(id)
			if err != nil || !it.IsSummary() {
				continue
			}
			if i, dup := seen[id]; dup {
				pool[i].score = max(pool[i].score, r.RelevanceScore)
				continue
			}
			seen[id] = len(pool)
			pool = append(pool, ranked{Item: it, score: r.RelevanceScore})
		}
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Level != pool[j].Level {
			return pool[i].Level > pool[j].Level
		}
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].ID < pool[j].ID
	})
	out := make([]model.Item, len(pool))
	for i, p := range pool {
		out[i] = p.Item
	}
	return out, nil
}

func (a *Assembler) position(id string) int {
	pos, err := a.items.Position(id)
	if err != nil {
		a.log.Debug("assembler: %s left the store during assembly", id)
		return -1
	}
	return pos
}

func render(summaries, recent []model.Item) string {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "[summary L%d] %s\n", s.Level, s.Text)
	}
	for _, r := range recent {
		role := r.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, r.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
