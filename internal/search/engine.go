// Package search resolves a query against a conversation's memory, widening
// scope from live summaries to archived material to an external long-term
// source only as needed.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/rcliao/memtier/internal/archive"
	"github.com/rcliao/memtier/internal/chunker"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/items"
	"github.com/rcliao/memtier/internal/keywords"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
)

var tracer = otel.Tracer("github.com/rcliao/memtier/internal/search")

const (
	scoreExact      = 0.8
	scoreKeyword    = 0.3
	scoreTopic      = 0.2
	scoreLevelStep  = 0.1
	scoreSimilarity = 0.5

	snippetOver = 400
)

// Options tunes a search.
type Options struct {
	Threshold           int           `yaml:"threshold"`
	MaxResults          int           `yaml:"max_results"`
	MinRelevance        float64       `yaml:"min_relevance"`
	Budget              time.Duration `yaml:"budget"`
	EnableFallback      bool          `yaml:"enable_fallback"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
}

// DefaultOptions returns the default search options.
func DefaultOptions() Options {
	return Options{
		Threshold:           3,
		MaxResults:          10,
		MinRelevance:        0.1,
		Budget:              50 * time.Millisecond,
		EnableFallback:      true,
		SimilarityThreshold: 0.8,
	}
}

// ExternalSearch is the long-term memory consulted when local search comes up short.
type ExternalSearch interface {
	Search(ctx context.Context, query string) ([]model.SearchResult, error)
}

// ExternalFunc adapts a function to ExternalSearch.
type ExternalFunc func(ctx context.Context, query string) ([]model.SearchResult, error)

func (f ExternalFunc) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	return f(ctx, query)
}

// Response is a ranked result set.
type Response struct {
	Results      []model.SearchResult `json:"results"`
	Decompressed bool                 `json:"decompressed"`
	UsedFallback bool                 `json:"used_fallback"`
	Partial      bool                 `json:"partial"`
}

// Engine searches one conversation.
type Engine struct {
	items    *items.Store
	archive  *archive.Archive
	opts     Options
	external ExternalSearch
	limiter  *rate.Limiter
	embedder embedding.Provider
	log      logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithExternal sets the fallback source.
func WithExternal(x ExternalSearch) Option { return func(e *Engine) { e.external = x } }

// WithLimiter bounds how often the fallback source is called.
func WithLimiter(l *rate.Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithEmbedder enables similarity matching.
func WithEmbedder(p embedding.Provider) Option { return func(e *Engine) { e.embedder = p } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = logging.OrNop(l) } }

// New returns an engine over store and arc.
func New(store *items.Store, arc *archive.Archive, opts Options, options ...Option) *Engine {
	e := &Engine{
		items:   store,
		archive: arc,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		log:     logging.Nop(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Options returns the engine's options.
func (e *Engine) Options() Options { return e.opts }

// candidate is a scored result plus its tie-break weight.
type candidate struct {
	result model.SearchResult
	weight float64
}

// query is the prepared form of a search string.
type query struct {
	raw   string
	lower string
	terms []string
	vec   embedding.Vector
}

// Search runs the full tiered search, including the fallback source.
func (e *Engine) Search(ctx context.Context, q string) (Response, error) {
	return e.run(ctx, q, e.opts.EnableFallback)
}

// Local runs the tiered search without the fallback source.
func (e *Engine) Local(ctx context.Context, q string) (Response, error) {
	return e.run(ctx, q, false)
}

func (e *Engine) run(ctx context.Context, raw string, fallback bool) (Response, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	var resp Response
	qry := query{raw: raw, lower: strings.ToLower(strings.TrimSpace(raw))}
	if qry.lower == "" {
		return resp, nil
	}
	qry.terms = keywords.Terms(qry.lower)

	local := ctx
	if e.opts.Budget > 0 {
		var cancel context.CancelFunc
		local, cancel = context.WithTimeout(ctx, e.opts.Budget)
		defer cancel()
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(local, raw)
		if err != nil {
			e.log.Warn("search: embed query: %v", err)
		} else {
			qry.vec = vec
		}
	}

	found := make(map[string]candidate)
	maxLevel := e.items.MaxLevel()
	live := e.items.Items()
	hits := make(map[string]bool)

	// Highest level first.
	for level := maxLevel; level >= 0 && len(found) < e.opts.Threshold; level-- {
		if local.Err() != nil {
			resp.Partial = true
			break
		}
		for _, it := range live {
			if it.Level != level {
				continue
			}
			if c, ok := e.score(local, it, qry, maxLevel); ok {
				found[it.ID] = c
				hits[it.ID] = true
			}
		}
	}

	if !resp.Partial && len(found) < e.opts.Threshold {
		resp.Decompressed, resp.Partial = e.decompress(local, live, hits, found, qry, maxLevel)
	}

	if fallback && len(found) < e.opts.Threshold && e.external != nil {
		ext, err := e.Fallback(ctx, raw)
		if err != nil {
			e.log.Warn("search: fallback for %q: %v", raw, err)
		} else {
			resp.UsedFallback = true
			for _, r := range ext {
				if _, dup := found[r.ID]; dup {
					continue
				}
				r.Source = model.SourceFallback
				found[r.ID] = candidate{result: r}
			}
		}
	}

	resp.Results = e.rank(found)
	span.SetAttributes(
		attribute.Int("memtier.results", len(resp.Results)),
		attribute.Bool("memtier.decompressed", resp.Decompressed),
		attribute.Bool("memtier.fallback", resp.UsedFallback),
		attribute.Bool("memtier.partial", resp.Partial),
	)
	return resp, nil
}

// ErrRateLimited is returned by Fallback when the limiter denies the call.
var ErrRateLimited = errors.New("search: fallback rate limited")

// Fallback queries the external source, subject to the rate limiter.
func (e *Engine) Fallback(ctx context.Context, q string) ([]model.SearchResult, error) {
	if e.external == nil {
		return nil, nil
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return nil, ErrRateLimited
	}
	results, err := e.external.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Source = model.SourceFallback
	}
	return results, nil
}

// decompress rehydrates live summaries one level at a time, most promising
// first, until enough results are found or nothing is left to expand.
func (e *Engine) decompress(ctx context.Context, live []model.Item, hits map[string]bool, found map[string]candidate, qry query, maxLevel int) (used, partial bool) {
	var frontier []model.Item
	// root maps every frontier item to the live summary it was expanded from.
	root := make(map[string]string)
	for _, it := range live {
		if it.IsSummary() {
			frontier = append(frontier, it)
			root[it.ID] = it.ID
		}
	}
	order := func() {
		sort.SliceStable(frontier, func(i, j int) bool {
			hi, hj := hits[frontier[i].ID], hits[frontier[j].ID]
			if hi != hj {
				return hi
			}
			return frontier[i].Level > frontier[j].Level
		})
	}
	order()

	for len(frontier) > 0 && len(found) < e.opts.Threshold {
		if ctx.Err() != nil {
			return used, true
		}
		parent := frontier[0]
		frontier = frontier[1:]

		children, err := e.archive.Decompress(parent, parent.Level-1)
		if err != nil {
			e.log.Warn("search: decompress %s: %v", parent.ID, err)
			if !errors.Is(err, model.ErrBrokenChain) {
				continue
			}
		}
		used = true

		pushed := false
		for _, child := range children {
			if _, seen := found[child.ID]; seen {
				continue
			}
			c, ok := e.score(ctx, child, qry, maxLevel)
			if ok {
				c.result.Metadata["decompressed"] = true
				c.result.Metadata["via"] = parent.ID
				c.result.Metadata["root"] = root[parent.ID]
				found[child.ID] = c
				hits[child.ID] = true
			}
			if child.IsSummary() {
				root[child.ID] = root[parent.ID]
				frontier = append(frontier, child)
				pushed = true
			}
		}
		if pushed {
			order()
		}
	}
	return used, false
}

// score reports whether it matches qry and how well. A match needs a textual
// signal or a strong embedding similarity; the level bonus only ranks.
func (e *Engine) score(ctx context.Context, it model.Item, qry query, maxLevel int) (candidate, bool) {
	text := strings.ToLower(it.Text)
	var score float64
	hit := false

	if strings.Contains(text, qry.lower) {
		score += scoreExact
		hit = true
	}
	for _, t := range qry.terms {
		if strings.Contains(text, t) {
			score += scoreKeyword
			hit = true
		}
	}
	if it.HasTopic(qry.lower) || anyTopic(it, qry.terms) {
		score += scoreTopic
		hit = true
	}
	if qry.vec != nil && ctx.Err() == nil {
		if sim, ok := e.similarity(ctx, it, qry.vec); ok && sim >= e.opts.SimilarityThreshold {
			score += scoreSimilarity * sim
			hit = true
		}
	}
	if !hit {
		return candidate{}, false
	}

	if bonus := maxLevel + 1 - it.Level; bonus > 0 {
		score += float64(bonus) * scoreLevelStep
	}
	score = clamp(score)
	if score < e.opts.MinRelevance {
		return candidate{}, false
	}

	meta := map[string]any{"kind": string(it.Kind)}
	if len(it.Topics) > 0 {
		meta["topics"] = it.Topics
	}
	if model.CharLen(it.Text) > snippetOver {
		meta["snippet"] = chunker.Snippet(it.Text, qry.raw, chunker.DefaultOptions())
	}
	return candidate{
		result: model.SearchResult{
			ID:             it.ID,
			Content:        it.Text,
			Level:          it.Level,
			RelevanceScore: score,
			Source:         model.SourceLocal,
			Metadata:       meta,
		},
		weight: it.Authority + it.UserFeedback - it.AccessCost,
	}, true
}

func (e *Engine) similarity(ctx context.Context, it model.Item, qvec embedding.Vector) (float64, bool) {
	vec, err := e.embedder.Embed(ctx, it.Text)
	if err != nil {
		e.log.Warn("search: embed %s: %v", it.ID, err)
		return 0, false
	}
	sim, err := embedding.CosineSimilarity(qvec, vec)
	if err != nil {
		e.log.Warn("search: similarity %s: %v", it.ID, err)
		return 0, false
	}
	return sim, true
}

func anyTopic(it model.Item, terms []string) bool {
	for _, t := range terms {
		if it.HasTopic(t) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// rank orders by score, then authority+feedback-cost, then id, and truncates.
func (e *Engine) rank(found map[string]candidate) []model.SearchResult {
	cands := make([]candidate, 0, len(found))
	for _, c := range found {
		// The floor applies to local scoring; external sources score on their own scale.
		if c.result.Source == model.SourceLocal && c.result.RelevanceScore < e.opts.MinRelevance {
			continue
		}
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.result.RelevanceScore != b.result.RelevanceScore {
			return a.result.RelevanceScore > b.result.RelevanceScore
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		return a.result.ID < b.result.ID
	})
	if e.opts.MaxResults > 0 && len(cands) > e.opts.MaxResults {
		cands = cands[:e.opts.MaxResults]
	}
	out := make([]model.SearchResult, len(cands))
	for i, c := range cands {
		out[i] = c.result
	}
	return out
}
