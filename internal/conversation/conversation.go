// Package conversation wires one conversation's memory engine together and
// manages many independent conversations.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memtier/internal/archive"
	"github.com/rcliao/memtier/internal/assembler"
	"github.com/rcliao/memtier/internal/compress"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/interest"
	"github.com/rcliao/memtier/internal/items"
	"github.com/rcliao/memtier/internal/keywords"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/search"
	"github.com/rcliao/memtier/internal/store"
	"github.com/rcliao/memtier/internal/summarize"
)

// Config gathers the settings of every component.
type Config struct {
	Compress  compress.Config
	Search    search.Options
	Interest  interest.Config
	RecentK   int
	CacheSize int
	// Enrich turns on background retrieval after each append.
	Enrich bool
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Compress:  compress.DefaultConfig(),
		Search:    search.DefaultOptions(),
		Interest:  interest.DefaultConfig(),
		RecentK:   assembler.DefaultRecentK,
		CacheSize: embedding.DefaultCacheSize,
		Enrich:    true,
	}
}

// Deps are the collaborators a conversation uses.
type Deps struct {
	Summarizer summarize.Summarizer
	Embedder   embedding.Provider
	External   search.ExternalSearch
	Logger     logging.Logger
	Clock      func() time.Time
	Random     interest.Random
}

// Enrichment is material retrieved in the background for a trigger tag.
type Enrichment struct {
	Tag      string               `json:"tag"`
	Random   bool                 `json:"random,omitempty"`
	Fallback bool                 `json:"fallback,omitempty"`
	Results  []model.SearchResult `json:"results"`
	At       time.Time            `json:"at"`
}

// AppendResult reports what happened to an appended turn.
type AppendResult struct {
	Item     model.Item       `json:"item"`
	Action   compress.Action  `json:"action"`
	Interest interest.Analysis `json:"interest"`
	// CompressError is set when the pass failed; the turn is still stored.
	CompressError string `json:"compress_error,omitempty"`
}

// Conversation owns one item store and archive.
type Conversation struct {
	id       string
	cfg      Config
	items    *items.Store
	archive  *archive.Archive
	orch     *compress.Orchestrator
	analyzer *interest.Analyzer
	engine   *search.Engine
	asm      *assembler.Assembler
	log      logging.Logger
	now      func() time.Time
	ids      *model.IDGenerator

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	enrichments []Enrichment
}

// New returns an empty conversation.
func New(id string, cfg Config, deps Deps) (*Conversation, error) {
	return build(id, cfg, deps, items.New(), archive.New())
}

// FromState restores a conversation from an exported state without running
// compression. The state's budget and thresholds override cfg.
func FromState(id string, st model.State, cfg Config, deps Deps) (*Conversation, error) {
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	live, err := items.Load(st.Items)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	arc, err := archive.Load(st.Archive)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	if st.BudgetMax > 0 {
		cfg.Compress.BudgetMax = st.BudgetMax
	}
	if st.Thresholds.L1 > 0 {
		cfg.Compress.L1Threshold = st.Thresholds.L1
	}
	if st.Thresholds.Hierarchical > 0 {
		cfg.Compress.HierarchicalThreshold = st.Thresholds.Hierarchical
	}
	c, err := build(id, cfg, deps, live, arc)
	if err != nil {
		return nil, err
	}
	// Raw turns carry the tags they were analyzed with; replay them so
	// frequency and recency survive a restart.
	for _, e := range st.Archive {
		if e.Kind == model.KindRaw {
			c.analyzer.Observe(e.Topics, e.CreatedAt)
		}
	}
	for _, it := range st.Items {
		if it.Kind == model.KindRaw {
			c.analyzer.Observe(it.Topics, it.CreatedAt)
		}
	}
	return c, nil
}

func build(id string, cfg Config, deps Deps, live *items.Store, arc *archive.Archive) (*Conversation, error) {
	if err := cfg.Compress.Validate(); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	log := logging.OrNop(deps.Logger)
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	sum := deps.Summarizer
	if sum == nil {
		sum = summarize.NewTruncating(0)
	}
	arc.SetClock(func() time.Time { return now().UTC() })

	c := &Conversation{
		id:      id,
		cfg:     cfg,
		items:   live,
		archive: arc,
		log:     log,
		now:     now,
		ids:     model.NewIDGenerator(now),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.orch = compress.New(cfg.Compress, live, arc, sum,
		compress.WithLogger(log), compress.WithClock(now), compress.WithIDs(c.ids.New))

	aopts := []interest.Option{interest.WithClock(now), interest.WithLogger(log)}
	if deps.Random != nil {
		aopts = append(aopts, interest.WithRandom(deps.Random))
	}
	c.analyzer = interest.New(cfg.Interest, aopts...)

	sopts := []search.Option{search.WithLogger(log)}
	if deps.External != nil {
		sopts = append(sopts, search.WithExternal(deps.External))
	}
	if deps.Embedder != nil {
		cached, err := embedding.NewCached(deps.Embedder, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: embedding cache: %w", id, err)
		}
		sopts = append(sopts, search.WithEmbedder(cached))
	}
	c.engine = search.New(live, arc, cfg.Search, sopts...)
	c.asm = assembler.New(live, c.engine, cfg.RecentK, log)
	return c, nil
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Config returns the settings in effect.
func (c *Conversation) Config() Config { return c.cfg }

// Append stores a turn, runs a compression pass and starts background
// enrichment. A failed compression pass does not fail the append.
func (c *Conversation) Append(ctx context.Context, role, text string) (AppendResult, error) {
	var res AppendResult
	if err := c.checkOpen(); err != nil {
		return res, err
	}

	item := model.NewRaw(c.ids.New(), role, text, keywords.Extract(text), c.now())
	if err := c.items.Append(item); err != nil {
		return res, fmt.Errorf("append: %w", err)
	}
	res.Item = item

	act, err := c.orch.Process(ctx)
	res.Action = act
	if err != nil {
		c.log.Warn("conversation %s: compression deferred: %v", c.id, err)
		res.CompressError = err.Error()
	}

	res.Interest = c.analyzer.Analyze(text)
	if c.cfg.Enrich && len(res.Interest.Triggers) > 0 {
		c.enrich(res.Interest.Triggers)
	}
	return res, nil
}

// Compress runs a compression pass outside of Append.
func (c *Conversation) Compress(ctx context.Context) (compress.Action, error) {
	return c.orch.Process(ctx)
}

// Build returns the context for the next generation.
func (c *Conversation) Build(ctx context.Context, query string, maxChars int) (string, error) {
	return c.asm.Build(ctx, query, maxChars)
}

// Assemble is Build with the chosen parts.
func (c *Conversation) Assemble(ctx context.Context, query string, maxChars int) (assembler.Context, error) {
	return c.asm.Assemble(ctx, query, maxChars)
}

// Search runs the tiered search.
func (c *Conversation) Search(ctx context.Context, query string) (search.Response, error) {
	return c.engine.Search(ctx, query)
}

// SearchLocal runs the tiered search without the fallback source.
func (c *Conversation) SearchLocal(ctx context.Context, query string) (search.Response, error) {
	return c.engine.Local(ctx, query)
}

// Decompress expands a live or archived item to targetLevel.
func (c *Conversation) Decompress(id string, targetLevel int) ([]model.Item, error) {
	root, err := c.items.Get(id)
	if err != nil {
		e, aerr := c.archive.Get(id)
		if aerr != nil {
			return nil, fmt.Errorf("decompress %s: %w", id, model.ErrNotFound)
		}
		root = e.Item
	}
	return c.archive.Decompress(root, targetLevel)
}

// ArchiveSearch is the result of a direct archive scan.
type ArchiveSearch struct {
	Matches    []archive.Match `json:"matches"`
	BelowLevel bool            `json:"below_level"`
}

// SearchArchive scans archived text for query below the current top level.
func (c *Conversation) SearchArchive(query string) ArchiveSearch {
	m, below := c.archive.SearchWithFallback(query, c.items.MaxLevel())
	return ArchiveSearch{Matches: m, BelowLevel: below}
}

// Stats describes the conversation's memory.
type Stats struct {
	ID           string              `json:"id"`
	Items        int                 `json:"items"`
	Raw          int                 `json:"raw"`
	Summaries    int                 `json:"summaries"`
	Archived     int                 `json:"archived"`
	TotalChars   int                 `json:"total_chars"`
	BudgetMax    int                 `json:"budget_max"`
	SummaryRatio float64             `json:"summary_ratio"`
	MaxLevel     int                 `json:"max_level"`
	Levels       map[int]int         `json:"levels"`
	TopTags      []interest.TagCount `json:"top_tags,omitempty"`
}

// Stats returns a snapshot of budget usage and structure.
func (c *Conversation) Stats() Stats {
	counts := c.items.CountByKind()
	st := Stats{
		ID:           c.id,
		Items:        c.items.Len(),
		Raw:          counts[model.KindRaw],
		Summaries:    counts[model.KindSummary],
		Archived:     c.archive.Len(),
		TotalChars:   c.items.TotalChars(),
		BudgetMax:    c.cfg.Compress.BudgetMax,
		SummaryRatio: c.items.SummaryRatio(),
		MaxLevel:     c.items.MaxLevel(),
		Levels:       make(map[int]int),
	}
	for _, it := range c.items.Items() {
		st.Levels[it.Level]++
	}
	if tags := c.analyzer.History(); len(tags) > 5 {
		st.TopTags = tags[:5]
	} else {
		st.TopTags = tags
	}
	return st
}

// Export returns the persisted state layout.
func (c *Conversation) Export() model.State {
	return model.State{
		Items:     c.items.Items(),
		Archive:   c.archive.Entries(),
		BudgetMax: c.cfg.Compress.BudgetMax,
		Thresholds: model.Thresholds{
			L1:           c.cfg.Compress.L1Threshold,
			Hierarchical: c.cfg.Compress.HierarchicalThreshold,
		},
	}
}

// ExportJSON returns the state as indented JSON.
func (c *Conversation) ExportJSON() ([]byte, error) {
	return store.EncodeState(c.Export())
}

// Enrichments returns the material retrieved in the background so far.
func (c *Conversation) Enrichments() []Enrichment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Enrichment(nil), c.enrichments...)
}

// Wait blocks until background enrichment started so far has finished.
func (c *Conversation) Wait() { c.bg.Wait() }

// Close stops accepting turns, cancels outstanding fallback calls and waits
// for background work.
func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.bg.Wait()
	return nil
}

func (c *Conversation) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conversation %s is closed", c.id)
	}
	return nil
}

// enrich searches locally for every trigger in parallel within the search
// budget, then asks the fallback source about triggers left short. The
// fallback is not bounded by the budget.
func (c *Conversation) enrich(triggers []interest.Trigger) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()

		ctx := c.ctx
		if c.cfg.Search.Budget > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(c.ctx, c.cfg.Search.Budget)
			defer cancel()
		}

		responses := make([]search.Response, len(triggers))
		g, gctx := errgroup.WithContext(ctx)
		for i, tr := range triggers {
			i, tr := i, tr
			g.Go(func() error {
				resp, err := c.engine.Local(gctx, tr.Tag)
				responses[i] = resp
				return err
			})
		}
		if err := g.Wait(); err != nil {
			c.log.Warn("conversation %s: enrichment search: %v", c.id, err)
		}

		var short []interest.Trigger
		for i, tr := range triggers {
			if len(responses[i].Results) > 0 {
				c.record(Enrichment{Tag: tr.Tag, Random: tr.Random, Results: responses[i].Results, At: c.now()})
			}
			if len(responses[i].Results) < c.cfg.Search.Threshold {
				short = append(short, tr)
			}
		}

		if !c.cfg.Search.EnableFallback {
			return
		}
		for _, tr := range short {
			results, err := c.engine.Fallback(c.ctx, tr.Tag)
			if err != nil {
				c.log.Warn("conversation %s: fallback for %q: %v", c.id, tr.Tag, err)
				continue
			}
			if len(results) > 0 {
				c.record(Enrichment{Tag: tr.Tag, Random: tr.Random, Fallback: true, Results: results, At: c.now()})
			}
		}
	}()
}

func (c *Conversation) record(e Enrichment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enrichments = append(c.enrichments, e)
}
